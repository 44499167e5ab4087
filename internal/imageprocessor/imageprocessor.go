// Package imageprocessor turns raw captures into bounded JPEG payloads suitable
// for upload and model inference, and manages transient preview handles.
package imageprocessor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/ingrediscan/internal/analysis"
)

// Options bounds the compressed output.
type Options struct {
	MaxSizeMB        float64 `yaml:"max_size_mb" validate:"gt=0"`
	MaxWidthOrHeight int     `yaml:"max_width_or_height" validate:"gt=0"`
	Quality          float64 `yaml:"quality" validate:"gt=0,lte=1"`
}

// DefaultOptions matches what the analysis service expects for OCR and VLM input.
func DefaultOptions() Options {
	return Options{MaxSizeMB: 1, MaxWidthOrHeight: 1024, Quality: 0.8}
}

// MaxBytes returns the size budget in bytes.
func (o Options) MaxBytes() int {
	return int(o.MaxSizeMB * 1024 * 1024)
}

// Encoded is a compressed image ready for transfer.
type Encoded struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// DataURI returns the payload as a self-contained data URI.
func (e *Encoded) DataURI() string {
	return DataURI(e.MediaType, e.Data)
}

// DataURI encodes data as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Transformer exposes the image operations used by the scan pipeline.
type Transformer interface {
	Compress(ctx context.Context, raw []byte, opts Options) (*Encoded, error)
	Thumbnail(ctx context.Context, raw []byte, size int) (string, error)
}

// ErrNotImage is returned by DetectImage for non-image input.
var ErrNotImage = errors.New("input is not an image")

// TransformError reports a failed compression or thumbnail step.
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("image %s failed: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Classification implements analysis.Classifier.
func (e *TransformError) Classification() analysis.Classification {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return analysis.Classification{}
	}
	return analysis.Classification{Kind: analysis.KindInvalidImage, Reason: analysis.ReasonImage}
}

// DetectImage sniffs data and returns its media type. The declared type, when
// present, must also be an image type.
func DetectImage(data []byte, declared string) (string, error) {
	if declared != "" && !strings.HasPrefix(strings.ToLower(declared), "image/") {
		return "", fmt.Errorf("%w: declared %s", ErrNotImage, declared)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty input", ErrNotImage)
	}
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, detected.String())
	}
	return detected.String(), nil
}
