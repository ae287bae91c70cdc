package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
)

const (
	id3v1Size         = 128
	id3v1ExtendedSize = 227
)

// TrackTags are the only ID3 fields written back after a full strip.
type TrackTags struct {
	Title  string
	Artist string
}

// ParseCaption splits a caption on its first comma: the first part is the
// title, the second the artist. Empty parts are left unset.
func ParseCaption(caption string) TrackTags {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return TrackTags{}
	}
	parts := strings.SplitN(caption, ",", 2)
	tags := TrackTags{Title: strings.TrimSpace(parts[0])}
	if len(parts) == 2 {
		tags.Artist = strings.TrimSpace(parts[1])
	}
	return tags
}

// IsEmpty reports whether no field would be written.
func (t TrackTags) IsEmpty() bool {
	return t.Title == "" && t.Artist == ""
}

// MusicStripper removes every ID3v2 frame and any trailing ID3v1 block, then
// repopulates title and artist from the request caption.
type MusicStripper struct{}

// NewMusicStripper creates a music stripper.
func NewMusicStripper() *MusicStripper {
	return &MusicStripper{}
}

// Strip copies stagedPath to outPath and rewrites the copy's tags.
func (s *MusicStripper) Strip(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error) {
	if err := ctx.Err(); err != nil {
		return ProcessedFile{}, processingError(CategoryMusic, "start", err)
	}
	if err := copyFile(stagedPath, outPath); err != nil {
		return ProcessedFile{}, processingError(CategoryMusic, "copy", err)
	}
	if err := stripID3v1(outPath); err != nil {
		_ = os.Remove(outPath)
		return ProcessedFile{}, processingError(CategoryMusic, "strip id3v1", err)
	}
	if err := rewriteID3v2(outPath, ParseCaption(hints.Caption)); err != nil {
		_ = os.Remove(outPath)
		return ProcessedFile{}, processingError(CategoryMusic, "rewrite id3v2", err)
	}
	mime := strings.TrimSpace(hints.Mime)
	if mime == "" {
		mime = "audio/mpeg"
	}
	return ProcessedFile{Path: outPath, Name: hints.Name, Mime: mime}, nil
}

func rewriteID3v2(path string, tags TrackTags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	tag.DeleteAllFrames()
	if !tags.IsEmpty() {
		tag.SetVersion(4)
		tag.SetDefaultEncoding(id3v2.EncodingUTF8)
		if tags.Title != "" {
			tag.SetTitle(tags.Title)
		}
		if tags.Artist != "" {
			tag.SetArtist(tags.Artist)
		}
	}
	if err := tag.Save(); err != nil {
		_ = tag.Close()
		return err
	}
	return tag.Close()
}

// stripID3v1 truncates a trailing "TAG" block and the "TAG+" extension that may precede it.
func stripID3v1(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size < id3v1Size {
		return nil
	}
	marker := make([]byte, 4)
	if _, err := f.ReadAt(marker[:3], size-id3v1Size); err != nil {
		return err
	}
	if !bytes.Equal(marker[:3], []byte("TAG")) {
		return nil
	}
	end := size - id3v1Size
	if end >= id3v1ExtendedSize {
		if _, err := f.ReadAt(marker, end-id3v1ExtendedSize); err != nil {
			return err
		}
		if bytes.Equal(marker, []byte("TAG+")) {
			end -= id3v1ExtendedSize
		}
	}
	if err := f.Truncate(end); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
