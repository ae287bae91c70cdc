// Package policy classifies inbound files and enforces per-category size limits.
package policy

import (
	"fmt"
	"strings"

	"github.com/memohai/metaeraser/internal/media"
)

// Table maps a category to its maximum size in megabytes. It is built once at
// start-up and only read afterwards.
type Table map[media.Category]float64

// DefaultTable mirrors the limits shipped in config.toml.
func DefaultTable() Table {
	return Table{
		media.CategoryDocument: 20,
		media.CategoryImage:    10,
		media.CategoryVideo:    20,
		media.CategoryMusic:    20,
	}
}

// Limit returns the megabyte limit for category.
func (t Table) Limit(category media.Category) (float64, bool) {
	limit, ok := t[category]
	return limit, ok
}

// MaxBytes returns the byte ceiling for category, or zero when it has no limit.
func (t Table) MaxBytes(category media.Category) int64 {
	return media.MBToBytes(t[category])
}

// Classify infers the processing category of an upload. Documents are
// reclassified as music when their declared MIME type is audio/*. Kinds with
// no dedicated category keep their kind name and are rejected by the table.
func Classify(upload *media.Upload) (media.Category, error) {
	if upload == nil || strings.TrimSpace(upload.Handle) == "" {
		return "", &media.PolicyError{Reason: media.ErrNoFileProvided}
	}
	switch upload.Kind {
	case media.KindPhoto:
		return media.CategoryImage, nil
	case media.KindVideo:
		return media.CategoryVideo, nil
	case media.KindAudio:
		return media.CategoryMusic, nil
	case media.KindDocument:
		if upload.MimePrefix() == "audio" {
			return media.CategoryMusic, nil
		}
		return media.CategoryDocument, nil
	default:
		return media.Category(upload.Kind), nil
	}
}

// CheckLimit rejects a file whose size in MB is strictly greater than the
// category limit. A size equal to the limit passes.
func CheckLimit(category media.Category, sizeBytes int64, table Table) error {
	limit, ok := table.Limit(category)
	if !ok {
		return &media.PolicyError{Reason: media.ErrUnsupportedType, Category: category}
	}
	actual := media.BytesToMB(sizeBytes)
	if actual > limit {
		return &media.PolicyError{
			Reason:   media.ErrSizeLimitExceeded,
			Category: category,
			ActualMB: actual,
			LimitMB:  limit,
		}
	}
	return nil
}

// Validate classifies upload, checks its declared size and builds the request.
func Validate(upload *media.Upload, table Table) (media.FileRequest, error) {
	category, err := Classify(upload)
	if err != nil {
		return media.FileRequest{}, err
	}
	if err := CheckLimit(category, upload.Size, table); err != nil {
		return media.FileRequest{}, err
	}
	return media.FileRequest{
		Handle:   upload.Handle,
		Name:     SuggestName(category, upload),
		Size:     upload.Size,
		Category: category,
		Caption:  strings.TrimSpace(upload.Caption),
		Mime:     strings.TrimSpace(upload.Mime),
	}, nil
}

// SuggestName returns the declared filename, or synthesizes one from the
// category and the platform's unique id.
func SuggestName(category media.Category, upload *media.Upload) string {
	if name := strings.TrimSpace(upload.Name); name != "" {
		return name
	}
	id := strings.TrimSpace(upload.UniqueID)
	if id == "" {
		id = upload.Handle
	}
	switch category {
	case media.CategoryImage:
		return fmt.Sprintf("photo_%s.jpg", id)
	case media.CategoryVideo:
		return fmt.Sprintf("video_%s.mp4", id)
	case media.CategoryMusic:
		return fmt.Sprintf("audio_%s.mp3", id)
	default:
		return fmt.Sprintf("file_%s", id)
	}
}
