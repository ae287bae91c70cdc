package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeAudioFrames = bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00}, 64)

// writeTaggedTrack writes fake MPEG frames with a populated ID3v2 tag and a trailing ID3v1 block.
func writeTaggedTrack(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "staged.mp3")
	require.NoError(t, os.WriteFile(path, fakeAudioFrames, 0o644))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle("Original Title")
	tag.SetArtist("Original Artist")
	tag.SetAlbum("Secret Album")
	tag.SetYear("2001")
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding: id3v2.EncodingUTF8,
		Language: "eng",
		Text:     "recorded at 48.85N 2.35E",
	})
	require.NoError(t, tag.Save())
	require.NoError(t, tag.Close())

	v1 := make([]byte, id3v1Size)
	copy(v1, "TAGOld v1 title")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(v1)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

func readTag(t *testing.T, path string) *id3v2.Tag {
	t.Helper()
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tag.Close() })
	return tag
}

func TestParseCaption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		caption string
		want    TrackTags
	}{
		{caption: "Midnight, J. Doe", want: TrackTags{Title: "Midnight", Artist: "J. Doe"}},
		{caption: "OnlyTitle", want: TrackTags{Title: "OnlyTitle"}},
		{caption: "", want: TrackTags{}},
		{caption: "   ", want: TrackTags{}},
		{caption: "Song, Band, Extra", want: TrackTags{Title: "Song", Artist: "Band, Extra"}},
		{caption: ", Artist Only", want: TrackTags{Artist: "Artist Only"}},
		{caption: "Title,", want: TrackTags{Title: "Title"}},
	}
	for _, tt := range tests {
		if got := ParseCaption(tt.caption); got != tt.want {
			t.Errorf("ParseCaption(%q) = %+v, want %+v", tt.caption, got, tt.want)
		}
	}
}

func TestMusicStripperRepopulatesFromCaption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	staged := writeTaggedTrack(t, dir)
	out := filepath.Join(dir, "clean.mp3")

	got, err := NewMusicStripper().Strip(context.Background(), staged, Hints{Name: "track.mp3", Caption: "Midnight, J. Doe"}, out)
	require.NoError(t, err)
	assert.Equal(t, "track.mp3", got.Name)
	assert.Equal(t, "audio/mpeg", got.Mime)

	tag := readTag(t, out)
	assert.Equal(t, "Midnight", tag.Title())
	assert.Equal(t, "J. Doe", tag.Artist())
	assert.Empty(t, tag.Album())
	assert.Empty(t, tag.Year())
	assert.Equal(t, 2, tag.Count())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, fakeAudioFrames), "audio frames must be kept and id3v1 removed")
	assert.False(t, bytes.Contains(data, []byte("48.85N")))
}

func TestMusicStripperTitleOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	staged := writeTaggedTrack(t, dir)
	out := filepath.Join(dir, "clean.mp3")

	_, err := NewMusicStripper().Strip(context.Background(), staged, Hints{Name: "track.mp3", Caption: "OnlyTitle"}, out)
	require.NoError(t, err)

	tag := readTag(t, out)
	assert.Equal(t, "OnlyTitle", tag.Title())
	assert.Empty(t, tag.Artist())
	assert.Equal(t, 1, tag.Count())
}

func TestMusicStripperFullStripWithoutCaption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	staged := writeTaggedTrack(t, dir)
	out := filepath.Join(dir, "clean.mp3")

	_, err := NewMusicStripper().Strip(context.Background(), staged, Hints{Name: "track.mp3"}, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, fakeAudioFrames, data)

	staleData, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(staleData, []byte("ID3")), "staged file must not be modified")
}

func TestMusicStripperMissingInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := NewMusicStripper().Strip(context.Background(), filepath.Join(dir, "missing.mp3"), Hints{}, filepath.Join(dir, "clean.mp3"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
}

func TestStripID3v1LeavesUntaggedFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "plain.mp3", fakeAudioFrames)

	require.NoError(t, stripID3v1(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeAudioFrames, data)
}
