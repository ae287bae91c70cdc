// Package prune shortens tool output before it is logged or wrapped into errors.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMarker   = "[output pruned]"
	DefaultMaxBytes = 2 * 1024
	DefaultMaxLines = 40
)

type Config struct {
	MaxBytes  int
	MaxLines  int
	HeadLines int
	TailLines int
	Marker    string
}

// Stderr keeps the first and last lines of process output, where ffmpeg puts
// its banner and its actual failure.
var Stderr = Config{MaxBytes: DefaultMaxBytes, MaxLines: DefaultMaxLines, HeadLines: 4, TailLines: 12}

func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Edges returns s unchanged when it fits cfg and otherwise a head/tail excerpt
// that is itself bounded by cfg.MaxBytes.
func Edges(s string, cfg Config) string {
	cfg = normalizeConfig(cfg)
	s = strings.TrimSpace(s)
	if !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	lines := strings.Split(s, "\n")
	head := lines[:minInt(cfg.HeadLines, len(lines))]
	var tail []string
	if rest := len(lines) - len(head); rest > 0 {
		tail = lines[len(lines)-minInt(cfg.TailLines, rest):]
	}
	omitted := len(lines) - len(head) - len(tail)
	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	fmt.Fprintf(&b, "\n%s %d lines omitted\n", cfg.Marker, omitted)
	b.WriteString(strings.Join(tail, "\n"))
	return safeUTF8Suffix(b.String(), cfg.MaxBytes)
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.HeadLines < 0 {
		cfg.HeadLines = 0
	}
	if cfg.TailLines < 0 {
		cfg.TailLines = 0
	}
	return cfg
}

func safeUTF8Suffix(s string, maxBytes int) string {
	if maxBytes >= len(s) {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
