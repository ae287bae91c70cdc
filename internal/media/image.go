package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 95

// DefaultMaxImagePixels bounds width*height of a decodable image (about 50 megapixels).
const DefaultMaxImagePixels = 50_000_000

var errImageTooLarge = errors.New("image dimensions exceed pixel limit")

// ImageStripper re-encodes raster images from their decoded pixels only.
// The standard encoders never emit EXIF, XMP, ICC or text chunks, so the
// output carries no auxiliary metadata.
type ImageStripper struct {
	jpegQuality int
	maxPixels   int64
}

// NewImageStripper creates an image stripper. Quality outside 1..100 falls back to the default.
func NewImageStripper(jpegQuality int) *ImageStripper {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &ImageStripper{jpegQuality: jpegQuality, maxPixels: DefaultMaxImagePixels}
}

// Strip decodes stagedPath and writes a pixel-only copy to outPath in the same format.
func (s *ImageStripper) Strip(ctx context.Context, stagedPath string, hints Hints, outPath string) (ProcessedFile, error) {
	if err := ctx.Err(); err != nil {
		return ProcessedFile{}, processingError(CategoryImage, "start", err)
	}
	cfg, format, err := sniffImageConfig(stagedPath)
	if err != nil {
		return ProcessedFile{}, processingError(CategoryImage, "decode", err)
	}
	// GIF frames are bounded by the logical screen, so one check covers each frame.
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > s.maxPixels {
		return ProcessedFile{}, processingError(CategoryImage, "decode",
			fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height))
	}
	if format == "gif" {
		err = s.stripGIF(stagedPath, outPath)
	} else {
		err = s.stripStill(stagedPath, outPath)
	}
	if err != nil {
		_ = os.Remove(outPath)
		return ProcessedFile{}, processingError(CategoryImage, "re-encode", err)
	}
	return ProcessedFile{
		Path: outPath,
		Name: withExtension(hints.Name, extensionForFormat(format)),
		Mime: "image/" + format,
	}, nil
}

func (s *ImageStripper) stripStill(stagedPath, outPath string) error {
	in, err := os.Open(stagedPath)
	if err != nil {
		return err
	}
	defer in.Close()
	src, format, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	clean := clonePixels(src)

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	switch format {
	case "jpeg":
		err = jpeg.Encode(out, clean, &jpeg.Options{Quality: s.jpegQuality})
	case "png":
		err = png.Encode(out, clean)
	default:
		err = fmt.Errorf("unsupported image format %q", format)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

// stripGIF keeps every frame and its timing; comment and application
// extensions other than looping are not re-emitted by the encoder.
func (s *ImageStripper) stripGIF(stagedPath, outPath string) error {
	in, err := os.Open(stagedPath)
	if err != nil {
		return err
	}
	defer in.Close()
	src, err := gif.DecodeAll(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	clean := &gif.GIF{
		Image:           make([]*image.Paletted, 0, len(src.Image)),
		Delay:           slices.Clone(src.Delay),
		LoopCount:       src.LoopCount,
		Disposal:        slices.Clone(src.Disposal),
		Config:          src.Config,
		BackgroundIndex: src.BackgroundIndex,
	}
	for _, frame := range src.Image {
		clean.Image = append(clean.Image, clonePixels(frame).(*image.Paletted))
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	err = gif.EncodeAll(out, clean)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

func sniffImageConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	return image.DecodeConfig(f)
}

// clonePixels returns a freshly allocated image of the same concrete type,
// bounds and stride holding a copy of src's pixel buffers.
func clonePixels(src image.Image) image.Image {
	switch img := src.(type) {
	case *image.YCbCr:
		return &image.YCbCr{
			Y:              slices.Clone(img.Y),
			Cb:             slices.Clone(img.Cb),
			Cr:             slices.Clone(img.Cr),
			YStride:        img.YStride,
			CStride:        img.CStride,
			SubsampleRatio: img.SubsampleRatio,
			Rect:           img.Rect,
		}
	case *image.NYCbCrA:
		return &image.NYCbCrA{
			YCbCr:   *clonePixels(&img.YCbCr).(*image.YCbCr),
			A:       slices.Clone(img.A),
			AStride: img.AStride,
		}
	case *image.RGBA:
		return &image.RGBA{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.NRGBA:
		return &image.NRGBA{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.RGBA64:
		return &image.RGBA64{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.NRGBA64:
		return &image.NRGBA64{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.Gray:
		return &image.Gray{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.Gray16:
		return &image.Gray16{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.CMYK:
		return &image.CMYK{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
	case *image.Paletted:
		return &image.Paletted{
			Pix:     slices.Clone(img.Pix),
			Stride:  img.Stride,
			Rect:    img.Rect,
			Palette: slices.Clone(img.Palette),
		}
	default:
		dst := image.NewNRGBA(src.Bounds())
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
}

func extensionForFormat(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	default:
		return "." + format
	}
}

// withExtension replaces the extension of name unless it already matches ext
// (".jpeg" is accepted for ".jpg").
func withExtension(name, ext string) string {
	name = strings.TrimSpace(name)
	current := strings.ToLower(filepath.Ext(name))
	if current == ext || (ext == ".jpg" && current == ".jpeg") {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
