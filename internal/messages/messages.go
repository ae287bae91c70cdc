// Package messages holds the user-facing reply texts.
package messages

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/memohai/metaeraser/internal/media"
)

//go:embed messages.yaml
var defaultCatalog []byte

const anonymousName = "Anonymous"

// Catalog is the set of reply templates.
type Catalog struct {
	Start                 string `yaml:"start"`
	Help                  string `yaml:"help"`
	NoFile                string `yaml:"no_file"`
	UnsupportedType       string `yaml:"unsupported_type"`
	SizeLimit             string `yaml:"size_limit"`
	DownloadFailed        string `yaml:"download_failed"`
	DeliveryFailed        string `yaml:"delivery_failed"`
	ProcessingFailed      string `yaml:"processing_failed"`
	UnsupportedProcessing string `yaml:"unsupported_processing"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultCatalog, &c); err != nil {
		panic(fmt.Sprintf("messages: embedded catalog is invalid: %v", err))
	}
	return &c
}

// Load returns the embedded catalog with any keys from the override file
// applied on top. An empty path or a missing file yields the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	c.merge(override)
	return c, nil
}

func (c *Catalog) merge(o Catalog) {
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	pick(&c.Start, o.Start)
	pick(&c.Help, o.Help)
	pick(&c.NoFile, o.NoFile)
	pick(&c.UnsupportedType, o.UnsupportedType)
	pick(&c.SizeLimit, o.SizeLimit)
	pick(&c.DownloadFailed, o.DownloadFailed)
	pick(&c.DeliveryFailed, o.DeliveryFailed)
	pick(&c.ProcessingFailed, o.ProcessingFailed)
	pick(&c.UnsupportedProcessing, o.UnsupportedProcessing)
}

// Greeting renders the /start reply.
func (c *Catalog) Greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = anonymousName
	}
	return fill(c.Start, "name", name)
}

// Usage renders the /help reply with one line per configured limit.
func (c *Catalog) Usage(limits map[media.Category]float64) string {
	categories := make([]string, 0, len(limits))
	for cat := range limits {
		categories = append(categories, string(cat))
	}
	sort.Strings(categories)
	lines := make([]string, 0, len(categories))
	for _, cat := range categories {
		lines = append(lines, fmt.Sprintf("• %s: %s", cat, humanMB(limits[media.Category(cat)])))
	}
	return fill(c.Help, "limits", strings.Join(lines, "\n"))
}

// Rejection renders the reason a file was refused by policy.
func (c *Catalog) Rejection(err *media.PolicyError) string {
	switch {
	case errors.Is(err.Reason, media.ErrNoFileProvided):
		return c.NoFile
	case errors.Is(err.Reason, media.ErrSizeLimitExceeded):
		actual, limit := humanSizePair(err.ActualMB, err.LimitMB)
		return fill(c.SizeLimit,
			"actual", actual,
			"limit", limit,
			"category", string(err.Category),
		)
	default:
		return fill(c.UnsupportedType, "category", string(err.Category))
	}
}

// Unprocessable renders the reply for an accepted category with no stripper.
func (c *Catalog) Unprocessable(category media.Category) string {
	return fill(c.UnsupportedProcessing, "category", string(category))
}

func humanMB(mb float64) string {
	if mb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(media.MBToBytes(mb)))
}

// humanSizePair falls back to exact byte counts when the rounded sizes would read the same.
func humanSizePair(actualMB, limitMB float64) (string, string) {
	actual, limit := humanMB(actualMB), humanMB(limitMB)
	if actual != limit {
		return actual, limit
	}
	return humanBytes(actualMB), humanBytes(limitMB)
}

func humanBytes(mb float64) string {
	return humanize.Comma(media.MBToBytes(mb)) + " bytes"
}

func fill(template string, pairs ...string) string {
	oldnew := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		oldnew = append(oldnew, "{"+pairs[i]+"}", pairs[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(template)
}
