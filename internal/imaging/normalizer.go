package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/fieldops/docsorter/internal/common"
)

// Config bounds the produced artifacts. Zero values fall back to defaults.
type Config struct {
	MaxWidth  int // main image fit bound, default 2048
	MaxHeight int // main image fit bound, default 2048
	Quality   int // JPEG re-encode quality, default 85
	ThumbSize int // square thumbnail side, default 400
	OCRHeight int // OCR variant height bound, default 2000
}

// Metadata is the stable content metadata of a normalized image.
type Metadata struct {
	Width    int
	Height   int
	ByteSize int64
	MIMEType string
}

// Artifacts is the full output of one normalization run.
type Artifacts struct {
	// StorageKey is derived from a freshly generated uuid, not from a
	// content hash: two uploads of the same image get different keys.
	StorageKey string

	Main       []byte // bounded, re-encoded JPEG
	Thumbnail  []byte // ThumbSize x ThumbSize cover-crop JPEG
	OCRVariant []byte // grayscale, contrast-normalized, sharpened PNG

	Meta Metadata
}

// Normalizer turns a raw upload into the three deterministic artifacts.
type Normalizer struct {
	cfg    Config
	logger *slog.Logger
}

func NewNormalizer(cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 2048
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 2048
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}
	if cfg.ThumbSize <= 0 {
		cfg.ThumbSize = 400
	}
	if cfg.OCRHeight <= 0 {
		cfg.OCRHeight = 2000
	}
	return &Normalizer{cfg: cfg, logger: logger}
}

// Normalize decodes raw, auto-rotates from EXIF orientation, and produces
// the main/thumbnail/OCR artifacts. Unreadable bytes fail the whole run
// with common.ErrProcessing; no partial artifacts are returned.
func (n *Normalizer) Normalize(raw []byte, filename string) (*Artifacts, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		n.logger.Error("imaging.decode_failed", "filename", filename, "bytes", len(raw), "error", err)
		return nil, common.ProcessingError(fmt.Sprintf("decode %q", filename), err)
	}

	// Orientation is applied before any resizing so downstream consumers
	// never see rotated output.
	img = autoRotate(img, raw)

	main, w, h, err := n.encodeMain(img)
	if err != nil {
		return nil, common.ProcessingError("encode main image", err)
	}
	thumb, err := n.encodeThumbnail(img)
	if err != nil {
		return nil, common.ProcessingError("encode thumbnail", err)
	}
	ocr, err := n.EncodeOCRVariant(img)
	if err != nil {
		return nil, common.ProcessingError("encode ocr variant", err)
	}

	art := &Artifacts{
		StorageKey: uuid.New().String(),
		Main:       main,
		Thumbnail:  thumb,
		OCRVariant: ocr,
		Meta: Metadata{
			Width:    w,
			Height:   h,
			ByteSize: int64(len(main)),
			MIMEType: "image/jpeg",
		},
	}
	n.logger.Debug("imaging.normalize_ok",
		"filename", filename,
		"source_format", format,
		"storage_key", art.StorageKey,
		"width", w, "height", h,
		"main_bytes", len(main), "thumb_bytes", len(thumb), "ocr_bytes", len(ocr),
	)
	return art, nil
}

// encodeMain downscales to fit MaxWidth x MaxHeight (never upscales) and
// re-encodes as JPEG.
func (n *Normalizer) encodeMain(img image.Image) ([]byte, int, int, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	fw, fh := fitWithin(w, h, n.cfg.MaxWidth, n.cfg.MaxHeight)
	if fw != w || fh != h {
		dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
		img = dst
		w, h = fw, fh
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.cfg.Quality}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), w, h, nil
}

// encodeThumbnail produces a fixed square cover-fit crop.
func (n *Normalizer) encodeThumbnail(img image.Image) ([]byte, error) {
	thumb := imaging.Fill(img, n.cfg.ThumbSize, n.cfg.ThumbSize, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: n.cfg.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeOCRVariant derives the text-recognition variant: height-bound
// downscale, grayscale, contrast stretch, sharpen. Exported so the variant
// can be re-derived from an already-normalized main image.
func (n *Normalizer) EncodeOCRVariant(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dy() > n.cfg.OCRHeight {
		img = imaging.Resize(img, 0, n.cfg.OCRHeight, imaging.Lanczos)
	}
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 20)
	gray = imaging.Sharpen(gray, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NormalizeOCRFromEncoded re-derives an OCR variant from encoded image
// bytes (e.g. a previously produced main image).
func (n *Normalizer) NormalizeOCRFromEncoded(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, common.ProcessingError("decode for ocr variant", err)
	}
	out, err := n.EncodeOCRVariant(img)
	if err != nil {
		return nil, common.ProcessingError("encode ocr variant", err)
	}
	return out, nil
}

// fitWithin scales (w, h) down to fit (maxW, maxH) preserving aspect ratio.
// Dimensions already inside the bound are returned unchanged.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	rw := float64(maxW) / float64(w)
	rh := float64(maxH) / float64(h)
	r := rw
	if rh < rw {
		r = rh
	}
	fw := int(float64(w) * r)
	fh := int(float64(h) * r)
	if fw < 1 {
		fw = 1
	}
	if fh < 1 {
		fh = 1
	}
	return fw, fh
}
