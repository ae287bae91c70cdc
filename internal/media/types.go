package media

import (
	"context"
	"strings"
)

// Kind is the attachment kind declared by the transport.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindDocument  Kind = "document"
	KindVoice     Kind = "voice"
	KindAnimation Kind = "animation"
	KindSticker   Kind = "sticker"
)

// Category classifies the processing class assigned to an inbound file.
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryMusic    Category = "music"
)

// String returns the category as a plain string.
func (c Category) String() string {
	return string(c)
}

// Upload is the file descriptor declared by an inbound message, before validation.
type Upload struct {
	Kind     Kind
	Handle   string
	UniqueID string
	Name     string
	Mime     string
	Size     int64
	Caption  string
}

// MimePrefix returns the lowercase top-level type of the declared MIME ("audio" for "audio/mpeg").
func (u Upload) MimePrefix() string {
	mime := strings.ToLower(strings.TrimSpace(u.Mime))
	if idx := strings.IndexByte(mime, '/'); idx >= 0 {
		return mime[:idx]
	}
	return mime
}

// FileRequest identifies one validated inbound file. It is immutable once built.
type FileRequest struct {
	Handle   string
	Name     string
	Size     int64
	Category Category
	Caption  string
	Mime     string
}

// Hints carries per-request inputs a stripper may consult.
type Hints struct {
	Name    string
	Mime    string
	Caption string
}

// ProcessedFile is the metadata-cleaned artifact produced by a Stripper.
type ProcessedFile struct {
	Path string
	// Name is the filename presented to the user on delivery.
	Name string
	Mime string
}

// Stripper produces a metadata-free copy of a staged file at outPath.
type Stripper interface {
	Strip(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error)
}

// StripperFunc adapts a plain function to the Stripper interface.
type StripperFunc func(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error)

// Strip calls f.
func (f StripperFunc) Strip(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error) {
	return f(ctx, stagedPath, hints, outPath)
}
