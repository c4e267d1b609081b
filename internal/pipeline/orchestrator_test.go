package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/docsorter/constants"
	"github.com/fieldops/docsorter/internal/classify"
	"github.com/fieldops/docsorter/internal/common"
	"github.com/fieldops/docsorter/internal/directory"
	"github.com/fieldops/docsorter/internal/entity"
	"github.com/fieldops/docsorter/internal/imaging"
	"github.com/fieldops/docsorter/internal/metrics"
	"github.com/fieldops/docsorter/internal/notify"
	"github.com/fieldops/docsorter/internal/ocr"
	"github.com/fieldops/docsorter/internal/repository"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// docRepoFake keeps documents in memory and mirrors the real repository's
// update semantics (additive cost, COALESCE on OCR text).
type docRepoFake struct {
	docs        map[uuid.UUID]*entity.Document
	createCalls int
	updateCalls int
	createErr   error
	appendErr   error
}

func newDocRepoFake() *docRepoFake {
	return &docRepoFake{docs: map[uuid.UUID]*entity.Document{}}
}

func (f *docRepoFake) Create(_ context.Context, d *entity.Document) error {
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DocUUID == uuid.Nil {
		d.DocUUID = uuid.New()
	}
	if d.Status == "" {
		d.Status = constants.StatusPending
	}
	if d.Method == "" {
		d.Method = constants.MethodPending
	}
	cp := *d
	f.docs[d.ID] = &cp
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *docRepoFake) GetByDocUUID(_ context.Context, docUUID uuid.UUID) (*entity.Document, error) {
	for _, d := range f.docs {
		if d.DocUUID == docUUID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *docRepoFake) UpdateClassification(_ context.Context, id uuid.UUID, upd repository.ClassificationUpdate) error {
	f.updateCalls++
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.EntityID = upd.EntityID
	d.Method = upd.Method
	d.Confidence = upd.Confidence
	d.Reasoning = upd.Reasoning
	d.Status = upd.Status
	if upd.OCRText != nil {
		d.OCRText = upd.OCRText
	}
	d.CostUSD += upd.AddCostUSD
	d.ProcessingMS = upd.ProcessingMS
	return nil
}

func (f *docRepoFake) SetStatus(_ context.Context, id uuid.UUID, status constants.DocumentStatus) error {
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *docRepoFake) AppendImages(_ context.Context, id uuid.UUID, images []entity.ImageDescriptor) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.Images = append(d.Images, images...)
	return nil
}

func (f *docRepoFake) SetSiteName(_ context.Context, id uuid.UUID, siteName string) error {
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.SiteName = &siteName
	return nil
}

func (f *docRepoFake) SoftDelete(_ context.Context, id uuid.UUID) error {
	return f.SetStatus(context.Background(), id, constants.StatusDeleted)
}

func (f *docRepoFake) List(context.Context, *constants.DocumentStatus, *time.Time, *time.Time) ([]*entity.Document, error) {
	return nil, errors.New("not implemented")
}

type feedbackRepoFake struct {
	recorded []*entity.Feedback
}

func (f *feedbackRepoFake) Record(_ context.Context, fb *entity.Feedback) error {
	fb.IsCorrect = fb.PredictedID != nil && *fb.PredictedID == fb.ActualID
	cp := *fb
	f.recorded = append(f.recorded, &cp)
	return nil
}

func (f *feedbackRepoFake) ListByEntity(context.Context, uuid.UUID) ([]*entity.Feedback, error) {
	return nil, errors.New("not implemented")
}

type entityRepoFake struct {
	entities []*entity.Entity
}

func (f *entityRepoFake) Create(context.Context, *entity.Entity) error { return errors.New("no") }
func (f *entityRepoFake) Update(context.Context, *entity.Entity) error { return errors.New("no") }
func (f *entityRepoFake) Deactivate(context.Context, uuid.UUID) error  { return errors.New("no") }
func (f *entityRepoFake) Search(context.Context, string) ([]*entity.Entity, error) {
	return nil, errors.New("no")
}

func (f *entityRepoFake) GetByID(_ context.Context, id uuid.UUID) (*entity.Entity, error) {
	for _, e := range f.entities {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *entityRepoFake) GetByCode(_ context.Context, code string) (*entity.Entity, error) {
	for _, e := range f.entities {
		if e.Code == code {
			return e, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *entityRepoFake) ListActive(context.Context) ([]*entity.Entity, error) {
	return f.entities, nil
}

type blobFake struct {
	blobs map[string][]byte
}

func newBlobFake() *blobFake { return &blobFake{blobs: map[string][]byte{}} }

func (f *blobFake) Put(_ context.Context, key string, data []byte) (string, error) {
	f.blobs[key] = data
	return "/mem/" + key, nil
}

func (f *blobFake) Get(_ context.Context, key string) ([]byte, error) {
	b, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("missing blob")
	}
	return b, nil
}

func (f *blobFake) Remove(_ context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

type extractorFake struct {
	res   ocr.Result
	err   error
	paths []string
}

func (f *extractorFake) Extract(_ context.Context, path string) (ocr.Result, error) {
	f.paths = append(f.paths, path)
	return f.res, f.err
}

type classifierFake struct {
	outcome  classify.Outcome
	requests []classify.Request
}

func (f *classifierFake) Classify(_ context.Context, req classify.Request) classify.Outcome {
	f.requests = append(f.requests, req)
	return f.outcome
}

type eventSinkFake struct {
	events []notify.Event
}

func (f *eventSinkFake) Publish(_ context.Context, ev notify.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	docs       *docRepoFake
	feedback   *feedbackRepoFake
	store      *blobFake
	extractor  *extractorFake
	classifier *classifierFake
	events     *eventSinkFake
	entity     *entity.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ent := &entity.Entity{
		ID:       uuid.New(),
		Code:     "ACME",
		Name:     "Acme Corp",
		Keywords: []string{"acme"},
		Active:   true,
	}
	entID := ent.ID
	conf := 0.9

	f := &fixture{
		docs:     newDocRepoFake(),
		feedback: &feedbackRepoFake{},
		store:    newBlobFake(),
		extractor: &extractorFake{
			res: ocr.Result{Text: "orden acme", Confidence: 88, WordCount: 2, LineCount: 1},
		},
		classifier: &classifierFake{
			outcome: classify.Outcome{
				Success:    true,
				Method:     constants.MethodKeyword,
				EntityID:   &entID,
				Confidence: conf,
				Reasoning:  "matched 1/1 keywords",
			},
		},
		events: &eventSinkFake{},
		entity: ent,
	}
	dir := directory.New(&entityRepoFake{entities: []*entity.Entity{ent}}, nil)
	f.orch = NewOrchestrator(Config{MaxFilesPerDocument: 3},
		imaging.NewNormalizer(imaging.Config{}, nil),
		f.extractor, f.classifier, dir,
		f.docs, f.feedback, f.store, f.events, metrics.New(), nil)
	return f
}

func TestIngestHappyPath(t *testing.T) {
	f := newFixture(t)
	raw := testJPEG(t)

	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "front.jpg", Data: raw},
		{Filename: "back.jpg", Data: raw},
	}, UploadMeta{UploadedBy: "field-app", SiteName: "Planta Norte"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if len(doc.Images) != 2 {
		t.Errorf("images = %d, want 2", len(doc.Images))
	}
	if doc.Status != constants.StatusClassified {
		t.Errorf("Status = %s, want CLASSIFIED", doc.Status)
	}
	if doc.EntityID == nil || *doc.EntityID != f.entity.ID {
		t.Errorf("EntityID = %v, want %v", doc.EntityID, f.entity.ID)
	}
	if doc.SiteName == nil || *doc.SiteName != "Planta Norte" {
		t.Errorf("SiteName = %v", doc.SiteName)
	}
	if doc.OCRText == nil || *doc.OCRText != "orden acme" {
		t.Errorf("OCRText = %v", doc.OCRText)
	}

	// OCR ran once, on the primary image's recognition variant.
	if len(f.extractor.paths) != 1 {
		t.Fatalf("extractor calls = %d, want 1", len(f.extractor.paths))
	}
	if !strings.HasSuffix(f.extractor.paths[0], "/ocr.png") {
		t.Errorf("OCR ran on %q, want the ocr.png variant", f.extractor.paths[0])
	}
	if len(f.classifier.requests) != 1 {
		t.Fatalf("classifier calls = %d, want 1", len(f.classifier.requests))
	}
	req := f.classifier.requests[0]
	if req.OCRText != "orden acme" {
		t.Errorf("classifier text = %q", req.OCRText)
	}
	if req.ImagePath != doc.Primary().Path {
		t.Errorf("classifier image = %q, want primary %q", req.ImagePath, doc.Primary().Path)
	}

	// Three artifacts per image in the store.
	if len(f.store.blobs) != 6 {
		t.Errorf("stored blobs = %d, want 6", len(f.store.blobs))
	}

	// created then classified events, in order.
	if len(f.events.events) != 2 {
		t.Fatalf("events = %d, want 2", len(f.events.events))
	}
	if f.events.events[0].Kind != notify.EventDocumentCreated {
		t.Errorf("first event = %s", f.events.events[0].Kind)
	}
	if ev := f.events.events[1]; ev.Kind != notify.EventDocumentClassified || ev.EntityName != "Acme Corp" {
		t.Errorf("second event = %+v", ev)
	}
}

func TestIngestCorruptFileLeavesNoDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "junk.jpg", Data: []byte("not an image at all")},
	}, UploadMeta{UploadedBy: "field-app"})
	if !errors.Is(err, common.ErrProcessing) {
		t.Fatalf("error = %v, want ErrProcessing", err)
	}
	if f.docs.createCalls != 0 {
		t.Errorf("a document row was created for a corrupt upload")
	}
	if len(f.store.blobs) != 0 {
		t.Errorf("stored blobs = %d, want 0 after cleanup", len(f.store.blobs))
	}
}

func TestIngestPartialBatchIsRolledBack(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "ok.jpg", Data: testJPEG(t)},
		{Filename: "bad.jpg", Data: []byte{0xde, 0xad}},
	}, UploadMeta{UploadedBy: "field-app"})
	if !errors.Is(err, common.ErrProcessing) {
		t.Fatalf("error = %v, want ErrProcessing", err)
	}
	if len(f.store.blobs) != 0 {
		t.Errorf("stored blobs = %d, want 0; first file's artifacts must be removed", len(f.store.blobs))
	}
	if f.docs.createCalls != 0 {
		t.Errorf("document created despite failed batch")
	}
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t)
	raw := testJPEG(t)

	cases := []struct {
		name  string
		files []UploadFile
	}{
		{"no files", nil},
		{"too many files", []UploadFile{
			{Filename: "1.jpg", Data: raw}, {Filename: "2.jpg", Data: raw},
			{Filename: "3.jpg", Data: raw}, {Filename: "4.jpg", Data: raw},
		}},
		{"bad extension", []UploadFile{{Filename: "doc.pdf", Data: raw}}},
		{"empty file", []UploadFile{{Filename: "a.jpg", Data: nil}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Ingest(context.Background(), tc.files, UploadMeta{})
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if f.docs.createCalls != 0 {
		t.Errorf("documents created for rejected uploads")
	}
}

func TestIngestOCRFailureDegradesToEmptyText(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = common.ExtractionError("tesseract crashed", nil)

	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{UploadedBy: "field-app"})
	if err != nil {
		t.Fatalf("Ingest() error = %v; OCR failure must not fail the document", err)
	}
	if len(f.classifier.requests) != 1 || f.classifier.requests[0].OCRText != "" {
		t.Fatalf("classifier should receive empty text, got %+v", f.classifier.requests)
	}
	if doc.OCRText != nil {
		t.Errorf("OCRText = %q, want unset", *doc.OCRText)
	}
	if doc.Status != constants.StatusClassified {
		t.Errorf("Status = %s, want CLASSIFIED", doc.Status)
	}
}

func TestIngestClassifierErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.classifier.outcome = classify.Outcome{
		Success:   false,
		Method:    constants.MethodError,
		Reasoning: "all stages failed",
		CostUSD:   0.004,
	}

	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{UploadedBy: "field-app"})
	if err != nil {
		t.Fatalf("Ingest() error = %v; a failed classification is still a persisted result", err)
	}
	if doc.Status != constants.StatusFailed {
		t.Errorf("Status = %s, want FAILED", doc.Status)
	}
	if doc.Method != constants.MethodError {
		t.Errorf("Method = %s, want error", doc.Method)
	}
	if doc.CostUSD != 0.004 {
		t.Errorf("CostUSD = %v, want 0.004; failed AI attempts still bill", doc.CostUSD)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Kind != notify.EventDocumentFailed {
		t.Errorf("last event = %s, want %s", last.Kind, notify.EventDocumentFailed)
	}
}

func TestAddImagesDoesNotReclassify(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{UploadedBy: "field-app"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	classifierCalls := len(f.classifier.requests)

	updated, err := f.orch.AddImages(context.Background(), doc.ID, []UploadFile{
		{Filename: "b.jpg", Data: testJPEG(t)},
	})
	if err != nil {
		t.Fatalf("AddImages() error = %v", err)
	}
	if len(updated.Images) != 2 {
		t.Errorf("images = %d, want 2", len(updated.Images))
	}
	if len(f.classifier.requests) != classifierCalls {
		t.Errorf("AddImages triggered a re-classification")
	}
	// The original primary stays first.
	if updated.Primary().Path != doc.Primary().Path {
		t.Errorf("primary changed after AddImages")
	}
}

func TestAddImagesEnforcesCap(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
		{Filename: "b.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	_, err = f.orch.AddImages(context.Background(), doc.ID, []UploadFile{
		{Filename: "c.jpg", Data: testJPEG(t)},
		{Filename: "d.jpg", Data: testJPEG(t)},
	})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput at the image cap", err)
	}
}

func TestReclassifyReusesStoredTextAndAccumulatesCost(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	extractorCalls := len(f.extractor.paths)

	entID := f.entity.ID
	f.classifier.outcome = classify.Outcome{
		Success:    true,
		Method:     constants.MethodAIText,
		EntityID:   &entID,
		Confidence: 0.75,
		CostUSD:    0.002,
	}
	re, err := f.orch.Reclassify(context.Background(), doc.ID, classify.StrategyAuto)
	if err != nil {
		t.Fatalf("Reclassify() error = %v", err)
	}
	if len(f.extractor.paths) != extractorCalls {
		t.Errorf("Reclassify re-ran OCR despite stored text")
	}
	if re.Method != constants.MethodAIText || re.Confidence == nil || *re.Confidence != 0.75 {
		t.Errorf("re-run result = %s/%v", re.Method, re.Confidence)
	}
	if re.CostUSD != 0.002 {
		t.Errorf("CostUSD = %v, want accumulated 0.002", re.CostUSD)
	}

	// A second paid run keeps accumulating.
	if _, err := f.orch.Reclassify(context.Background(), doc.ID, classify.StrategyAuto); err != nil {
		t.Fatalf("Reclassify() error = %v", err)
	}
	stored, _ := f.docs.GetByID(context.Background(), doc.ID)
	if stored.CostUSD != 0.004 {
		t.Errorf("stored CostUSD = %v, want 0.004", stored.CostUSD)
	}
}

func TestManualClassifyRecordsFeedback(t *testing.T) {
	f := newFixture(t)
	wrong := &entity.Entity{ID: uuid.New(), Code: "OTRO", Name: "Otro SA", Keywords: []string{"otro"}, Active: true}
	wrongID := wrong.ID
	f.classifier.outcome = classify.Outcome{
		Success:    true,
		Method:     constants.MethodAIVision,
		EntityID:   &wrongID,
		Confidence: 0.6,
	}
	dir := directory.New(&entityRepoFake{entities: []*entity.Entity{f.entity, wrong}}, nil)
	f.orch.dir = dir

	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	fixed, err := f.orch.ManualClassify(context.Background(), doc.ID, f.entity.ID, "logo is Acme, not Otro")
	if err != nil {
		t.Fatalf("ManualClassify() error = %v", err)
	}
	if fixed.Method != constants.MethodManual {
		t.Errorf("Method = %s, want manual", fixed.Method)
	}
	if fixed.Confidence == nil || *fixed.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", fixed.Confidence)
	}
	if fixed.Status != constants.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", fixed.Status)
	}

	if len(f.feedback.recorded) != 1 {
		t.Fatalf("feedback records = %d, want 1", len(f.feedback.recorded))
	}
	fb := f.feedback.recorded[0]
	if fb.PredictedID == nil || *fb.PredictedID != wrong.ID {
		t.Errorf("PredictedID = %v, want the machine's wrong guess %v", fb.PredictedID, wrong.ID)
	}
	if fb.ActualID != f.entity.ID {
		t.Errorf("ActualID = %v, want %v", fb.ActualID, f.entity.ID)
	}
	if fb.IsCorrect {
		t.Errorf("IsCorrect = true for a correction")
	}
}

func TestManualClassifyUnknownEntity(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	_, err = f.orch.ManualClassify(context.Background(), doc.ID, uuid.New(), "typo")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(f.feedback.recorded) != 0 {
		t.Errorf("feedback recorded for an unknown entity")
	}
}

func TestDeleteIsSoft(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if err := f.orch.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := f.docs.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("document vanished after soft delete: %v", err)
	}
	if got.Status != constants.StatusDeleted {
		t.Errorf("Status = %s, want DELETED", got.Status)
	}
	if _, err := f.orch.Reclassify(context.Background(), doc.ID, classify.StrategyAuto); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("Reclassify on deleted doc error = %v, want ErrInvalidInput", err)
	}
}

func TestIngestUploaderFallsBackToContext(t *testing.T) {
	f := newFixture(t)
	ctx := common.WithUploaderID(context.Background(), "ops-console")

	doc, err := f.orch.Ingest(ctx, []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if doc.UploadedBy != "ops-console" {
		t.Errorf("UploadedBy = %q, want the context uploader", doc.UploadedBy)
	}
	if f.events.events[0].UploadedBy != "ops-console" {
		t.Errorf("created event UploadedBy = %q", f.events.events[0].UploadedBy)
	}

	// Explicit metadata wins over the context value.
	doc2, err := f.orch.Ingest(ctx, []UploadFile{
		{Filename: "b.jpg", Data: testJPEG(t)},
	}, UploadMeta{UploadedBy: "field-app"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if doc2.UploadedBy != "field-app" {
		t.Errorf("UploadedBy = %q, want field-app", doc2.UploadedBy)
	}
}

func TestIngestCreateFailureRemovesArtifacts(t *testing.T) {
	f := newFixture(t)
	f.docs.createErr = errors.New("connection refused")

	_, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{UploadedBy: "field-app"})
	if err == nil {
		t.Fatal("Ingest() succeeded despite failing Create")
	}
	if len(f.store.blobs) != 0 {
		t.Errorf("stored blobs = %d, want 0; artifacts must not be orphaned", len(f.store.blobs))
	}
}

func TestAddImagesAppendFailureRemovesNewArtifacts(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	before := len(f.store.blobs)

	f.docs.appendErr = errors.New("connection refused")
	if _, err := f.orch.AddImages(context.Background(), doc.ID, []UploadFile{
		{Filename: "b.jpg", Data: testJPEG(t)},
	}); err == nil {
		t.Fatal("AddImages() succeeded despite failing AppendImages")
	}
	if len(f.store.blobs) != before {
		t.Errorf("stored blobs = %d, want %d; the new batch must be removed", len(f.store.blobs), before)
	}
}

func TestCompletedDocumentIsFinal(t *testing.T) {
	f := newFixture(t)
	doc, err := f.orch.Ingest(context.Background(), []UploadFile{
		{Filename: "a.jpg", Data: testJPEG(t)},
	}, UploadMeta{})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := f.orch.ManualClassify(context.Background(), doc.ID, f.entity.ID, "confirmed"); err != nil {
		t.Fatalf("ManualClassify() error = %v", err)
	}

	if _, err := f.orch.Reclassify(context.Background(), doc.ID, classify.StrategyAuto); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("Reclassify on completed doc error = %v, want ErrInvalidInput", err)
	}
	if _, err := f.orch.AddImages(context.Background(), doc.ID, []UploadFile{
		{Filename: "b.jpg", Data: testJPEG(t)},
	}); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("AddImages on completed doc error = %v, want ErrInvalidInput", err)
	}
}
