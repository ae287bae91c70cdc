package media

import (
	"fmt"
	"log/slog"
)

// Options configures the default stripper set.
type Options struct {
	JPEGQuality int
	Video       VideoOptions
}

// Strippers maps each processable category to its capability.
type Strippers map[Category]Stripper

// NewStrippers builds the image, video and music capabilities.
// Documents are deliberately absent: they pass policy but are not processable.
func NewStrippers(log *slog.Logger, opts Options) Strippers {
	return Strippers{
		CategoryImage: NewImageStripper(opts.JPEGQuality),
		CategoryVideo: NewVideoStripper(log, opts.Video),
		CategoryMusic: NewMusicStripper(),
	}
}

// Lookup returns the stripper for category or ErrUnsupportedForProcessing.
func (s Strippers) Lookup(category Category) (Stripper, error) {
	stripper, ok := s[category]
	if !ok || stripper == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedForProcessing, category)
	}
	return stripper, nil
}
