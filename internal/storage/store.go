// Package storage manages the per-request staging area on disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/memohai/metaeraser/internal/media"
)

const (
	partSuffix    = ".part"
	maxNameLength = 96
	fallbackName  = "file"
)

// Fetcher opens the remote file referenced by a transport handle.
type Fetcher interface {
	OpenFile(ctx context.Context, handle string) (io.ReadCloser, error)
}

// StagedFile is a downloaded file owned by exactly one request.
type StagedFile struct {
	Path string
	Name string
	Mime string
	Size int64
}

// LimitError reports a download that grew past its byte ceiling.
type LimitError struct {
	Read int64
	Max  int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: read %d bytes, max %d", media.ErrSizeLimitExceeded, e.Read, e.Max)
}

func (e *LimitError) Unwrap() error {
	return media.ErrSizeLimitExceeded
}

// Store stages remote files under a single root directory. Every path it hands
// out is namespaced by a random id, so concurrent requests never collide.
type Store struct {
	fs      afero.Fs
	root    string
	fetcher Fetcher
	logger  *slog.Logger
}

// NewStore creates the staging root if needed.
func NewStore(log *slog.Logger, fs afero.Fs, root string, fetcher Fetcher) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if fetcher == nil {
		return nil, errors.New("storage: fetcher is required")
	}
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: staging root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}
	if err := fs.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	return &Store{
		fs:      fs,
		root:    abs,
		fetcher: fetcher,
		logger:  log.With(slog.String("component", "storage")),
	}, nil
}

// Root returns the absolute staging directory.
func (s *Store) Root() string {
	return s.root
}

// Stage downloads handle into a fresh staging path. The bytes land in a
// ".part" file first and are renamed only after the copy completes, so a
// failed download never leaves a staged file behind. A maxBytes of zero or
// less disables the ceiling.
func (s *Store) Stage(ctx context.Context, handle, name string, maxBytes int64) (StagedFile, error) {
	dest, err := s.hostPath(uuid.NewString() + "_" + SanitizeName(name))
	if err != nil {
		return StagedFile{}, err
	}
	reader, err := s.fetcher.OpenFile(ctx, handle)
	if err != nil {
		return StagedFile{}, fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
	}
	defer reader.Close()

	part := dest + partSuffix
	out, err := s.fs.Create(part)
	if err != nil {
		return StagedFile{}, fmt.Errorf("create staging file: %w", err)
	}
	written, copyErr := media.CopyWithLimit(out, reader, maxBytes)
	closeErr := out.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = ctx.Err()
	}
	if copyErr != nil {
		s.discard(part)
		if errors.Is(copyErr, media.ErrSizeLimitExceeded) {
			return StagedFile{}, &LimitError{Read: written, Max: maxBytes}
		}
		return StagedFile{}, fmt.Errorf("%w: %w", media.ErrDownloadFailed, copyErr)
	}
	if err := s.fs.Rename(part, dest); err != nil {
		s.discard(part)
		return StagedFile{}, fmt.Errorf("finalize staging file: %w", err)
	}
	staged := StagedFile{Path: dest, Name: name, Size: written, Mime: s.sniff(dest)}
	s.logger.Debug("staged file", slog.String("path", dest), slog.Int64("bytes", written), slog.String("mime", staged.Mime))
	return staged, nil
}

// Reserve returns the processed-output path paired with staged. Nothing is
// created on disk.
func (s *Store) Reserve(staged StagedFile, ext string) string {
	base := strings.TrimSuffix(staged.Path, filepath.Ext(staged.Path))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return base + ".clean" + ext
}

// Release deletes path. Missing files and empty paths are not errors, so it is
// safe to call more than once.
func (s *Store) Release(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if !s.owns(path) {
		return fmt.Errorf("%w: %s", media.ErrPathTraversal, path)
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release %s: %w", path, err)
	}
	return nil
}

func (s *Store) discard(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove partial download failed", slog.String("path", path), slog.Any("error", err))
	}
}

func (s *Store) sniff(path string) string {
	f, err := s.fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return ""
	}
	return mt.String()
}

// hostPath converts a staging key into a path inside the root.
func (s *Store) hostPath(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", media.ErrPathTraversal, key)
	}
	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	joined := filepath.Join(s.root, clean)
	if !s.owns(joined) {
		return "", fmt.Errorf("%w: %s escapes staging root", media.ErrPathTraversal, key)
	}
	return joined, nil
}

func (s *Store) owns(path string) bool {
	return strings.HasPrefix(filepath.Clean(path), s.root+string(filepath.Separator))
}

// SanitizeName reduces a user-supplied filename to a single safe path element.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case unicode.IsControl(r):
			return -1
		case unicode.IsSpace(r):
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if runes := []rune(name); len(runes) > maxNameLength {
		ext := filepath.Ext(name)
		if len([]rune(ext)) >= maxNameLength {
			ext = ""
		}
		keep := maxNameLength - len([]rune(ext))
		name = string([]rune(strings.TrimSuffix(name, ext))[:keep]) + ext
	}
	if name == "" {
		return fallbackName
	}
	return name
}

// Check reports whether the staging root is still a usable directory.
func (s *Store) Check(_ context.Context) error {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return fmt.Errorf("staging root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("staging root %s is not a directory", s.root)
	}
	return nil
}
