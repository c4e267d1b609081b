package ocr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldops/docsorter/internal/common"
)

// recognizerFake scripts the recognition context and instruments
// concurrent use.
type recognizerFake struct {
	text        string
	confidences []float64
	textErr     error
	delay       time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closed      atomic.Bool
}

func (f *recognizerFake) SetImage(string) error { return nil }

func (f *recognizerFake) Text() (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.text, f.textErr
}

func (f *recognizerFake) WordConfidences() ([]float64, error) { return f.confidences, nil }

func (f *recognizerFake) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestEngine(fake *recognizerFake, initErr error) (*Engine, *atomic.Int32) {
	e := NewEngine(Config{Languages: "spa+eng"}, nil)
	var inits atomic.Int32
	e.newRecognizer = func(Config) (recognizer, error) {
		inits.Add(1)
		if initErr != nil {
			return nil, initErr
		}
		return fake, nil
	}
	return e, &inits
}

func TestExtractReturnsNormalizedTextAndStats(t *testing.T) {
	fake := &recognizerFake{
		text:        "  ORDEN   DE TRABAJO ©\n\n\nACME  ",
		confidences: []float64{80, 90, 100},
	}
	engine, _ := newTestEngine(fake, nil)

	res, err := engine.Extract(context.Background(), "/tmp/doc.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Text != "ORDEN DE TRABAJO\nACME" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence != 90 {
		t.Errorf("Confidence = %v, want mean 90 on the 0-100 scale", res.Confidence)
	}
	if res.WordCount != 4 || res.LineCount != 2 {
		t.Errorf("WordCount/LineCount = %d/%d, want 4/2", res.WordCount, res.LineCount)
	}
}

func TestExtractInitializesContextOnce(t *testing.T) {
	fake := &recognizerFake{text: "x"}
	engine, inits := newTestEngine(fake, nil)

	for i := 0; i < 3; i++ {
		if _, err := engine.Extract(context.Background(), "/tmp/doc.png"); err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
	}
	if got := inits.Load(); got != 1 {
		t.Fatalf("recognizer initialized %d times, want 1", got)
	}
}

func TestExtractSerializesConcurrentCallers(t *testing.T) {
	fake := &recognizerFake{text: "x", delay: 10 * time.Millisecond}
	engine, _ := newTestEngine(fake, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Extract(context.Background(), "/tmp/doc.png")
		}()
	}
	wg.Wait()

	if got := fake.maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent recognitions = %d, want 1", got)
	}
}

func TestExtractTimeoutSurfacesExtractionError(t *testing.T) {
	fake := &recognizerFake{text: "x", delay: 500 * time.Millisecond}
	engine, _ := newTestEngine(fake, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := engine.Extract(ctx, "/tmp/doc.png")
	if err == nil {
		t.Fatalf("Extract() succeeded despite expired deadline")
	}
	if !errors.Is(err, common.ErrExtraction) {
		t.Errorf("error = %v, want ErrExtraction", err)
	}
}

func TestExtractInitFailure(t *testing.T) {
	engine, _ := newTestEngine(nil, errors.New("no language data"))

	_, err := engine.Extract(context.Background(), "/tmp/doc.png")
	if !errors.Is(err, common.ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", err)
	}
}

func TestExtractAfterCloseFails(t *testing.T) {
	fake := &recognizerFake{text: "x"}
	engine, _ := newTestEngine(fake, nil)

	if _, err := engine.Extract(context.Background(), "/tmp/doc.png"); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.closed.Load() {
		t.Errorf("underlying recognizer not closed")
	}
	if _, err := engine.Extract(context.Background(), "/tmp/doc.png"); err == nil {
		t.Fatalf("Extract() succeeded on a closed engine")
	}
}
