package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x + y), A: 200})
		}
	}
	return img
}

// withJPEGSegment inserts an APP1 segment right after SOI.
func withJPEGSegment(t *testing.T, data []byte, payload []byte) []byte {
	t.Helper()
	require.True(t, len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8, "not a jpeg")
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	out := append([]byte{}, data[:2]...)
	out = append(out, seg...)
	out = append(out, payload...)
	return append(out, data[2:]...)
}

// withPNGText inserts a tEXt chunk before IEND.
func withPNGText(t *testing.T, data []byte, keyword, text string) []byte {
	t.Helper()
	body := append([]byte(keyword), 0)
	body = append(body, text...)
	chunk := make([]byte, 4, 12+len(body))
	binary.BigEndian.PutUint32(chunk, uint32(len(body)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, body...)
	crc := make([]byte, 4)
	binary.BigEndian.PutUint32(crc, crc32.ChecksumIEEE(chunk[4:]))
	chunk = append(chunk, crc...)
	iend := len(data) - 12
	out := append([]byte{}, data[:iend]...)
	out = append(out, chunk...)
	return append(out, data[iend:]...)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestImageStripperRemovesJPEGExif(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testPattern(32, 24), &jpeg.Options{Quality: 90}))
	exif := append([]byte("Exif\x00\x00"), []byte("GPS-SECRET-48.85N")...)
	staged := writeFile(t, dir, "staged.jpg", withJPEGSegment(t, buf.Bytes(), exif))

	out := filepath.Join(dir, "clean.jpg")
	got, err := NewImageStripper(95).Strip(context.Background(), staged, Hints{Name: "holiday.jpeg"}, out)
	require.NoError(t, err)
	assert.Equal(t, out, got.Path)
	assert.Equal(t, "holiday.jpeg", got.Name)
	assert.Equal(t, "image/jpeg", got.Mime)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("Exif")), "exif segment survived")
	assert.False(t, bytes.Contains(data, []byte("GPS-SECRET")), "exif payload survived")

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), decoded.Bounds())
	_, isYCbCr := decoded.(*image.YCbCr)
	assert.True(t, isYCbCr)
}

func TestImageStripperPNGPixelsIdentical(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testPattern(16, 16)))
	staged := writeFile(t, dir, "staged.png", withPNGText(t, buf.Bytes(), "Author", "secret-author"))

	out := filepath.Join(dir, "clean.png")
	got, err := NewImageStripper(0).Strip(context.Background(), staged, Hints{Name: "shot.png"}, out)
	require.NoError(t, err)
	assert.Equal(t, "shot.png", got.Name)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("tEXt")))
	assert.False(t, bytes.Contains(data, []byte("secret-author")))

	before, err := png.Decode(bytes.NewReader(withPNGText(t, buf.Bytes(), "Author", "secret-author")))
	require.NoError(t, err)
	after, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	beforeNRGBA, ok := before.(*image.NRGBA)
	require.True(t, ok)
	afterNRGBA, ok := after.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, beforeNRGBA.Pix, afterNRGBA.Pix)
}

func TestImageStripperGIFKeepsFrames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	palette := color.Palette{color.Black, color.White}
	frames := make([]*image.Paletted, 0, 2)
	for i := 0; i < 2; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
		frame.SetColorIndex(i, i, 1)
		frames = append(frames, frame)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, &gif.GIF{Image: frames, Delay: []int{10, 20}}))
	staged := writeFile(t, dir, "staged.gif", buf.Bytes())

	out := filepath.Join(dir, "clean.gif")
	got, err := NewImageStripper(0).Strip(context.Background(), staged, Hints{Name: "anim"}, out)
	require.NoError(t, err)
	assert.Equal(t, "anim.gif", got.Name)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := gif.DecodeAll(f)
	require.NoError(t, err)
	require.Len(t, decoded.Image, 2)
	assert.Equal(t, []int{10, 20}, decoded.Delay)
	assert.Equal(t, frames[1].Pix, decoded.Image[1].Pix)
}

func TestImageStripperRejectsGarbage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	staged := writeFile(t, dir, "staged.jpg", []byte("definitely not an image"))

	out := filepath.Join(dir, "clean.jpg")
	_, err := NewImageStripper(0).Strip(context.Background(), staged, Hints{Name: "x.jpg"}, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImageStripperRejectsOversizedDimensions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Header only: a full decode would fail differently, so the limit must trip first.
	staged := writeFile(t, dir, "staged.png", pngHeaderOnly(t, 60000, 60000))
	out := filepath.Join(dir, "clean.png")
	_, err := NewImageStripper(0).Strip(context.Background(), staged, Hints{Name: "huge.png"}, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessingFailed))
	assert.True(t, errors.Is(err, errImageTooLarge))
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImageStripperPixelLimitIsInclusive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testPattern(10, 10)))
	staged := writeFile(t, dir, "staged.png", buf.Bytes())

	s := NewImageStripper(0)
	s.maxPixels = 100
	_, err := s.Strip(context.Background(), staged, Hints{Name: "a.png"}, filepath.Join(dir, "a.png"))
	require.NoError(t, err)

	s.maxPixels = 99
	_, err = s.Strip(context.Background(), staged, Hints{Name: "b.png"}, filepath.Join(dir, "b.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errImageTooLarge))
}

// pngHeaderOnly returns a PNG signature and IHDR chunk declaring width x height
// 8-bit grayscale, with no image data.
func pngHeaderOnly(t *testing.T, width, height uint32) []byte {
	t.Helper()
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ihdr)))
	buf.Write(length[:])
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(chunk))
	buf.Write(crc[:])
	return buf.Bytes()
}

func TestClonePixelsPreservesType(t *testing.T) {
	t.Parallel()

	src := image.NewYCbCr(image.Rect(0, 0, 8, 8), image.YCbCrSubsampleRatio420)
	for i := range src.Y {
		src.Y[i] = uint8(i)
	}
	clone, ok := clonePixels(src).(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, src.Y, clone.Y)
	assert.Equal(t, src.SubsampleRatio, clone.SubsampleRatio)
	clone.Y[0] = 99
	assert.NotEqual(t, src.Y[0], clone.Y[0], "clone must not share buffers")

	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	gray.Pix[4] = 42
	grayClone, ok := clonePixels(gray).(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, gray.Pix, grayClone.Pix)
}

func TestWithExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ext  string
		want string
	}{
		{name: "a.jpg", ext: ".jpg", want: "a.jpg"},
		{name: "a.JPEG", ext: ".jpg", want: "a.JPEG"},
		{name: "a.mov", ext: ".mp4", want: "a.mp4"},
		{name: "clip", ext: ".mp4", want: "clip.mp4"},
	}
	for _, tt := range tests {
		if got := withExtension(tt.name, tt.ext); got != tt.want {
			t.Errorf("withExtension(%q, %q) = %q, want %q", tt.name, tt.ext, got, tt.want)
		}
	}
}
