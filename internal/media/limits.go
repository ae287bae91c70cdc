package media

import (
	"fmt"
	"io"
)

const bytesPerMB = 1024 * 1024

// BytesToMB converts a byte count to megabytes (1 MB = 1024*1024 bytes).
func BytesToMB(n int64) float64 {
	return float64(n) / bytesPerMB
}

// MBToBytes converts a megabyte limit to the largest byte count that stays within it.
func MBToBytes(mb float64) int64 {
	if mb <= 0 {
		return 0
	}
	return int64(mb * bytesPerMB)
}

// CopyWithLimit copies from reader to writer and rejects payloads larger than maxBytes.
// A maxBytes of zero or less disables the limit.
func CopyWithLimit(writer io.Writer, reader io.Reader, maxBytes int64) (int64, error) {
	if reader == nil {
		return 0, fmt.Errorf("reader is required")
	}
	if writer == nil {
		return 0, fmt.Errorf("writer is required")
	}
	if maxBytes <= 0 {
		return io.Copy(writer, reader)
	}
	limited := &io.LimitedReader{
		R: reader,
		N: maxBytes + 1,
	}
	written, err := io.Copy(writer, limited)
	if err != nil {
		return written, err
	}
	if written > maxBytes {
		return written, fmt.Errorf("%w: max %d bytes", ErrSizeLimitExceeded, maxBytes)
	}
	return written, nil
}
