package imageprocessor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// Decoders accepted for raw captures.
	_ "image/gif"
	_ "image/png"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	outputMediaType  = "image/jpeg"
	minQuality       = 10
	qualityStep      = 10
	shrinkFactor     = 0.8
	maxEncodeRetries = 20
	thumbnailQuality = 70
)

// MaxPixels caps the declared area of a capture before it is decoded. A small
// PNG can declare dimensions whose decoded bitmap would not fit in memory.
const MaxPixels = 50_000_000

var (
	errBudget   = errors.New("could not fit size budget")
	errTooLarge = errors.New("declared dimensions exceed pixel budget")
)

// Compressor is the default Transformer. Images are flattened onto white,
// downscaled with Catmull-Rom, and re-encoded as JPEG with decreasing quality
// until the size budget is met.
type Compressor struct {
	logger *zap.Logger
}

// NewCompressor constructs a Compressor.
func NewCompressor(logger *zap.Logger) *Compressor {
	return &Compressor{logger: logger.Named("imageprocessor")}
}

// Compress implements Transformer.
func (c *Compressor) Compress(ctx context.Context, raw []byte, opts Options) (*Encoded, error) {
	src, format, err := decodeBounded(raw)
	if err != nil {
		return nil, &TransformError{Op: "compression", Err: err}
	}

	maxBytes := opts.MaxBytes()
	quality := int(opts.Quality * 100)
	if quality > 100 {
		quality = 100
	}
	if quality < minQuality {
		quality = minQuality
	}
	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), opts.MaxWidthOrHeight)

	var buf bytes.Buffer
	for attempt := 0; attempt < maxEncodeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransformError{Op: "compression", Err: err}
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, resize(src, w, h), &jpeg.Options{Quality: quality}); err != nil {
			return nil, &TransformError{Op: "compression", Err: fmt.Errorf("encode: %w", err)}
		}
		if buf.Len() <= maxBytes {
			c.logger.Debug("image compressed",
				zap.String("source_format", format),
				zap.String("input_size", humanize.IBytes(uint64(len(raw)))),
				zap.String("output_size", humanize.IBytes(uint64(buf.Len()))),
				zap.Int("width", w),
				zap.Int("height", h),
				zap.Int("quality", quality),
			)
			return &Encoded{Data: append([]byte(nil), buf.Bytes()...), MediaType: outputMediaType, Width: w, Height: h}, nil
		}
		if quality > minQuality {
			quality -= qualityStep
			if quality < minQuality {
				quality = minQuality
			}
			continue
		}
		w, h = max(1, int(float64(w)*shrinkFactor)), max(1, int(float64(h)*shrinkFactor))
	}
	return nil, &TransformError{Op: "compression", Err: fmt.Errorf("%w of %s", errBudget, humanize.IBytes(uint64(maxBytes)))}
}

// Thumbnail implements Transformer. It returns a JPEG data URI whose longest
// side is at most size pixels.
func (c *Compressor) Thumbnail(ctx context.Context, raw []byte, size int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransformError{Op: "thumbnail", Err: err}
	}
	src, _, err := decodeBounded(raw)
	if err != nil {
		return "", &TransformError{Op: "thumbnail", Err: err}
	}
	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), size)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resize(src, w, h), &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", &TransformError{Op: "thumbnail", Err: fmt.Errorf("encode: %w", err)}
	}
	return DataURI(outputMediaType, buf.Bytes()), nil
}

// decodeBounded reads the header first and refuses to decode anything whose
// declared area exceeds MaxPixels.
func decodeBounded(raw []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", errTooLarge, cfg.Width, cfg.Height)
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode: %w", err)
	}
	return src, format, nil
}

func fit(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func resize(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
