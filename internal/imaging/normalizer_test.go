package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/fieldops/docsorter/internal/common"
)

// encodeTestJPEG renders a flat-colored image of the given size.
func encodeTestJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestNormalizeDownscalesToFit(t *testing.T) {
	n := NewNormalizer(Config{MaxWidth: 1024, MaxHeight: 1024, ThumbSize: 100, OCRHeight: 500}, nil)
	raw := encodeTestJPEG(t, 3000, 1500, color.RGBA{200, 120, 40, 255})

	art, err := n.Normalize(raw, "wide.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodeDims(t, art.Main)
	if w != 1024 || h != 512 {
		t.Errorf("main dims = %dx%d, want 1024x512", w, h)
	}
	if art.Meta.Width != w || art.Meta.Height != h {
		t.Errorf("metadata dims %dx%d disagree with artifact %dx%d", art.Meta.Width, art.Meta.Height, w, h)
	}
	if art.Meta.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q", art.Meta.MIMEType)
	}
}

func TestNormalizeNeverUpscales(t *testing.T) {
	n := NewNormalizer(Config{MaxWidth: 2048, MaxHeight: 2048, ThumbSize: 100, OCRHeight: 2000}, nil)
	raw := encodeTestJPEG(t, 800, 600, color.RGBA{10, 10, 10, 255})

	art, err := n.Normalize(raw, "small.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if w, h := decodeDims(t, art.Main); w != 800 || h != 600 {
		t.Errorf("main dims = %dx%d, want unchanged 800x600", w, h)
	}
}

func TestNormalizeThumbnailIsSquareCover(t *testing.T) {
	n := NewNormalizer(Config{ThumbSize: 150}, nil)
	raw := encodeTestJPEG(t, 1200, 400, color.RGBA{80, 160, 240, 255})

	art, err := n.Normalize(raw, "wide.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if w, h := decodeDims(t, art.Thumbnail); w != 150 || h != 150 {
		t.Errorf("thumbnail dims = %dx%d, want 150x150", w, h)
	}
}

func TestNormalizeOCRVariantIsGrayscalePNG(t *testing.T) {
	n := NewNormalizer(Config{OCRHeight: 600}, nil)
	raw := encodeTestJPEG(t, 500, 900, color.RGBA{220, 40, 90, 255})

	art, err := n.Normalize(raw, "color.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(art.OCRVariant))
	if err != nil {
		t.Fatalf("OCR variant is not a PNG: %v", err)
	}
	if h := img.Bounds().Dy(); h > 600 {
		t.Errorf("OCR variant height = %d, want <= 600", h)
	}
	r, g, b, _ := img.At(img.Bounds().Dx()/2, img.Bounds().Dy()/2).RGBA()
	if r != g || g != b {
		t.Errorf("center pixel (%d,%d,%d) is not gray", r, g, b)
	}
}

func TestNormalizeRejectsCorruptBytes(t *testing.T) {
	n := NewNormalizer(Config{}, nil)
	art, err := n.Normalize([]byte("definitely not an image"), "junk.jpg")
	if art != nil {
		t.Fatalf("expected no artifacts for corrupt input")
	}
	if !errors.Is(err, common.ErrProcessing) {
		t.Fatalf("error = %v, want ErrProcessing", err)
	}
}

func TestNormalizeStorageKeysAreUnique(t *testing.T) {
	n := NewNormalizer(Config{}, nil)
	raw := encodeTestJPEG(t, 64, 64, color.White)

	a, err := n.Normalize(raw, "a.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	b, err := n.Normalize(raw, "a.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Same content twice still yields distinct keys.
	if a.StorageKey == b.StorageKey {
		t.Errorf("identical storage keys %q for separate uploads", a.StorageKey)
	}
}

func TestNormalizeOCRFromEncodedRoundTrip(t *testing.T) {
	n := NewNormalizer(Config{OCRHeight: 600}, nil)
	raw := encodeTestJPEG(t, 500, 900, color.RGBA{128, 128, 128, 255})

	art, err := n.Normalize(raw, "doc.jpg")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	// Re-deriving the OCR variant from the normalized main image must
	// produce a decodable variant with the same bounds.
	again, err := n.NormalizeOCRFromEncoded(art.Main)
	if err != nil {
		t.Fatalf("NormalizeOCRFromEncoded() error = %v", err)
	}
	w1, h1 := decodeDims(t, art.OCRVariant)
	w2, h2 := decodeDims(t, again)
	if w1 != w2 || h1 != h2 {
		t.Errorf("re-derived OCR variant %dx%d, want %dx%d", w2, h2, w1, h1)
	}
}

func TestNormalizeOCRFromEncodedRejectsCorrupt(t *testing.T) {
	n := NewNormalizer(Config{}, nil)
	if _, err := n.NormalizeOCRFromEncoded([]byte{0x00, 0x01}); !errors.Is(err, common.ErrProcessing) {
		t.Fatalf("error = %v, want ErrProcessing", err)
	}
}
