package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script standing in for ffmpeg or ffprobe.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

const fakeProbeWithAudio = `echo 1`

const fakeProbeSilent = `exit 0`

// fakeFFmpeg touches its last argument; fails the transcode pass when FAIL_TRANSCODE is set.
const fakeFFmpeg = `for last; do :; done
touch "$last"
case " $* " in
  *" -vn "*) exit 0 ;;
esac
if [ -n "$FAIL_TRANSCODE" ]; then
  echo boom >&2
  exit 1
fi
exit 0`

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
}

func TestVideoStripperRemovesTempAudioOnSuccess(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	staged := writeFile(t, dir, "staged.mov", []byte("fake video"))
	out := filepath.Join(dir, "clean.mp4")
	logPath := filepath.Join(dir, "calls.log")

	ffmpeg := writeScript(t, dir, "ffmpeg", `echo "$*" >> "`+logPath+`"
`+fakeFFmpeg)
	s := NewVideoStripper(discardLogger(), VideoOptions{
		FFmpegPath:  ffmpeg,
		FFprobePath: writeScript(t, dir, "ffprobe", fakeProbeWithAudio),
	})
	got, err := s.Strip(context.Background(), staged, Hints{Name: "clip.mov"}, out)
	require.NoError(t, err)
	assert.Equal(t, out, got.Path)
	assert.Equal(t, "clip.mp4", got.Name)
	assert.Equal(t, "video/mp4", got.Mime)

	_, err = os.Stat(out)
	assert.NoError(t, err)
	_, err = os.Stat(TempAudioPath(out))
	assert.True(t, os.IsNotExist(err), "temporary audio file must be removed")

	calls, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	require.Len(t, lines, 2, "audio extraction then transcode")

	audio := lines[0]
	assert.Contains(t, audio, "-vn")
	assert.Contains(t, audio, "-map_metadata -1")
	assert.Contains(t, audio, "-c:a aac")
	assert.True(t, strings.HasSuffix(audio, TempAudioPath(out)))

	final := lines[1]
	assert.Contains(t, final, "-i "+TempAudioPath(out))
	assert.Contains(t, final, "-map 0:v:0 -map 1:a:0 -c:a copy")
	assert.Contains(t, final, "-c:v libx264")
	assert.Contains(t, final, "-map_metadata -1")
	assert.Contains(t, final, "-map_chapters -1")
	assert.True(t, strings.HasSuffix(final, out))
}

func TestVideoStripperRemovesTempAudioOnFailure(t *testing.T) {
	skipWithoutShell(t)
	t.Setenv("FAIL_TRANSCODE", "1")
	dir := t.TempDir()
	staged := writeFile(t, dir, "staged.mov", []byte("fake video"))
	out := filepath.Join(dir, "clean.mp4")

	s := NewVideoStripper(discardLogger(), VideoOptions{
		FFmpegPath:  writeScript(t, dir, "ffmpeg", fakeFFmpeg),
		FFprobePath: writeScript(t, dir, "ffprobe", fakeProbeWithAudio),
	})
	_, err := s.Strip(context.Background(), staged, Hints{Name: "clip.mov"}, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
	assert.Contains(t, err.Error(), "boom")

	_, statErr := os.Stat(TempAudioPath(out))
	assert.True(t, os.IsNotExist(statErr), "temporary audio file must be removed")
	_, statErr = os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output must be removed")
}

func TestVideoStripperWithoutAudioTrack(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	staged := writeFile(t, dir, "staged.mp4", []byte("fake video"))
	out := filepath.Join(dir, "clean.mp4")
	logPath := filepath.Join(dir, "calls.log")

	ffmpeg := writeScript(t, dir, "ffmpeg", `echo "$*" >> "`+logPath+`"
`+fakeFFmpeg)
	s := NewVideoStripper(discardLogger(), VideoOptions{
		FFmpegPath:  ffmpeg,
		FFprobePath: writeScript(t, dir, "ffprobe", fakeProbeSilent),
	})
	_, err := s.Strip(context.Background(), staged, Hints{Name: "silent.mp4"}, out)
	require.NoError(t, err)

	calls, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	require.Len(t, lines, 1, "no audio extraction pass expected")
	assert.Contains(t, lines[0], "-an")
	assert.Contains(t, lines[0], "-map_metadata -1")
	assert.Contains(t, lines[0], "-c:v libx264")
}

func TestVideoStripperMissingProbe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	staged := writeFile(t, dir, "staged.mp4", []byte("fake video"))

	s := NewVideoStripper(discardLogger(), VideoOptions{
		FFmpegPath:  filepath.Join(dir, "no-ffmpeg"),
		FFprobePath: filepath.Join(dir, "no-ffprobe"),
	})
	_, err := s.Strip(context.Background(), staged, Hints{Name: "x.mp4"}, filepath.Join(dir, "clean.mp4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
}

func TestNewVideoStripperDefaults(t *testing.T) {
	t.Parallel()

	s := NewVideoStripper(nil, VideoOptions{})
	assert.Equal(t, DefaultFFmpegPath, s.opts.FFmpegPath)
	assert.Equal(t, DefaultFFprobePath, s.opts.FFprobePath)
	assert.Equal(t, DefaultVideoCodec, s.opts.VideoCodec)
	assert.Equal(t, DefaultAudioCodec, s.opts.AudioCodec)
}

func TestStrippersLookup(t *testing.T) {
	t.Parallel()

	strippers := NewStrippers(discardLogger(), Options{})
	for _, cat := range []Category{CategoryImage, CategoryVideo, CategoryMusic} {
		got, err := strippers.Lookup(cat)
		require.NoError(t, err, cat.String())
		assert.NotNil(t, got)
	}

	_, err := strippers.Lookup(CategoryDocument)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedForProcessing))
}
