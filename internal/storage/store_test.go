package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/metaeraser/internal/media"
)

type fakeFetcher struct {
	files map[string][]byte
	err   error
	// failAfter makes the reader error once this many bytes were served.
	failAfter int
}

func (f *fakeFetcher) OpenFile(_ context.Context, handle string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[handle]
	if !ok {
		return nil, errors.New("file not found")
	}
	if f.failAfter > 0 {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:f.failAfter]), errReader{})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func newTestStore(t *testing.T, fetcher Fetcher) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)), fs, "/staging", fetcher)
	require.NoError(t, err)
	return store, fs
}

func listRoot(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, "/staging")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStageWritesUniqueFile(t *testing.T) {
	t.Parallel()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	store, fs := newTestStore(t, &fakeFetcher{files: map[string][]byte{"h1": png}})

	staged, err := store.Stage(context.Background(), "h1", "my photo.png", 1024)
	require.NoError(t, err)
	assert.Equal(t, "/staging", filepath.Dir(staged.Path))
	assert.True(t, strings.HasSuffix(staged.Path, "_my_photo.png"), staged.Path)
	assert.Equal(t, "my photo.png", staged.Name)
	assert.Equal(t, int64(len(png)), staged.Size)
	assert.Equal(t, "image/png", staged.Mime)

	data, err := afero.ReadFile(fs, staged.Path)
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Len(t, listRoot(t, fs), 1)
}

func TestStageConcurrentSameNameNeverCollides(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{files: map[string][]byte{"h": []byte("payload")}})

	const n = 16
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			staged, err := store.Stage(context.Background(), "h", "same.txt", 0)
			assert.NoError(t, err)
			paths[i] = staged.Path
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, p := range paths {
		_, dup := seen[p]
		require.False(t, dup, "duplicate staged path %s", p)
		seen[p] = struct{}{}
	}
	assert.Len(t, listRoot(t, fs), n)
}

func TestStageOverflowLeavesNothing(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{files: map[string][]byte{"h": bytes.Repeat([]byte("x"), 100)}})

	_, err := store.Stage(context.Background(), "h", "big.bin", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrSizeLimitExceeded))
	assert.False(t, errors.Is(err, media.ErrDownloadFailed))
	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(10), limitErr.Max)
	assert.Greater(t, limitErr.Read, int64(10))
	assert.Empty(t, listRoot(t, fs))
}

func TestStageFetchFailure(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{err: errors.New("dial tcp: timeout")})

	_, err := store.Stage(context.Background(), "h", "a.jpg", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrDownloadFailed))
	assert.Empty(t, listRoot(t, fs))
}

func TestStageInterruptedDownloadRemovesPart(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{
		files:     map[string][]byte{"h": []byte("0123456789")},
		failAfter: 4,
	})

	_, err := store.Stage(context.Background(), "h", "a.mp4", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrDownloadFailed))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, listRoot(t, fs), "partial download must not remain")
}

func TestStageCancelledContext(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{files: map[string][]byte{"h": []byte("data")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Stage(ctx, "h", "a.mp4", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrDownloadFailed))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, listRoot(t, fs))
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{files: map[string][]byte{"h": []byte("data")}})

	staged, err := store.Stage(context.Background(), "h", "a.txt", 0)
	require.NoError(t, err)
	require.NoError(t, store.Release(staged.Path))
	require.NoError(t, store.Release(staged.Path))
	require.NoError(t, store.Release(""))
	assert.Empty(t, listRoot(t, fs))
}

func TestReleaseRejectsForeignPaths(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{})
	require.NoError(t, afero.WriteFile(fs, "/etc/passwd", []byte("root"), 0o644))

	for _, path := range []string{"/etc/passwd", "/staging/../etc/passwd", "/staging"} {
		err := store.Release(path)
		assert.True(t, errors.Is(err, media.ErrPathTraversal), path)
	}
	exists, err := afero.Exists(fs, "/etc/passwd")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReserve(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, &fakeFetcher{})

	staged := StagedFile{Path: "/staging/abc_clip.mov"}
	assert.Equal(t, "/staging/abc_clip.clean.mp4", store.Reserve(staged, ".mp4"))
	assert.Equal(t, "/staging/abc_clip.clean.mp4", store.Reserve(staged, "mp4"))
	assert.Equal(t, "/staging/abc_clip.clean", store.Reserve(staged, ""))
}

func TestHostPathRejectsTraversal(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, &fakeFetcher{})

	for _, key := range []string{"../escape", "..", "/abs/path"} {
		_, err := store.hostPath(key)
		assert.True(t, errors.Is(err, media.ErrPathTraversal), key)
	}
	got, err := store.hostPath("id_name.txt")
	require.NoError(t, err)
	assert.Equal(t, "/staging/id_name.txt", got)
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "photo.jpg", want: "photo.jpg"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\Users\me\song.mp3`, want: "song.mp3"},
		{in: "my holiday.png", want: "my_holiday.png"},
		{in: ".hidden", want: "hidden"},
		{in: "", want: "file"},
		{in: "..", want: "file"},
		{in: "bad\x00name\n.txt", want: "badname.txt"},
		{in: strings.Repeat("a", 200) + ".mp4", want: strings.Repeat("a", 92) + ".mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, afero.NewMemMapFs(), "/staging", nil)
	assert.Error(t, err)
	_, err = NewStore(nil, afero.NewMemMapFs(), " ", &fakeFetcher{})
	assert.Error(t, err)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, afero.WriteFile(fs, "/staging/old_a.jpg", []byte("a"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/staging/fresh_b.jpg", []byte("b"), 0o600))
	require.NoError(t, fs.Chtimes("/staging/old_a.jpg", now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, fs.Chtimes("/staging/fresh_b.jpg", now.Add(-time.Minute), now.Add(-time.Minute)))

	removed, err := store.Sweep(now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"fresh_b.jpg"}, listRoot(t, fs))
}

func TestSweeperRunOnceUsesClock(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, afero.WriteFile(fs, "/staging/x.part", []byte("x"), 0o600))
	require.NoError(t, fs.Chtimes("/staging/x.part", now.Add(-3*time.Hour), now.Add(-3*time.Hour)))

	sweeper := NewSweeper(nil, store, "", 0)
	assert.Equal(t, DefaultSweepSchedule, sweeper.schedule)
	assert.Equal(t, DefaultOrphanTTL, sweeper.ttl)
	sweeper.now = func() time.Time { return now }
	sweeper.RunOnce()
	assert.Empty(t, listRoot(t, fs))
}

func TestSweeperStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, &fakeFetcher{})

	sweeper := NewSweeper(nil, store, "not a schedule", time.Hour)
	assert.Error(t, sweeper.Start())
}

func TestSweeperStartStop(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, &fakeFetcher{})

	sweeper := NewSweeper(nil, store, "@every 1h", time.Hour)
	require.NoError(t, sweeper.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sweeper.Stop(ctx))
}

func TestCheckStagingRoot(t *testing.T) {
	t.Parallel()
	store, fs := newTestStore(t, &fakeFetcher{})

	require.NoError(t, store.Check(context.Background()))
	require.NoError(t, fs.RemoveAll(store.Root()))
	assert.Error(t, store.Check(context.Background()))
}
