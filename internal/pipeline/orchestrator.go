// Package pipeline coordinates the full ingestion flow: validate the
// upload, normalize images, extract text, run the staged classifier and
// persist the result. It owns status transitions and telemetry; the stage
// packages stay ignorant of each other.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
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

// UploadFile is one raw image handed to Ingest.
type UploadFile struct {
	Filename string
	Data     []byte
}

// UploadMeta carries the upload context that is not derivable from the
// image bytes.
type UploadMeta struct {
	UploadedBy string
	SiteName   string
	Strategy   classify.Strategy
}

// textExtractor and docClassifier are the slices of the OCR and
// classification engines the orchestrator needs; tests substitute fakes.
type textExtractor interface {
	Extract(ctx context.Context, path string) (ocr.Result, error)
}

type docClassifier interface {
	Classify(ctx context.Context, req classify.Request) classify.Outcome
}

type Config struct {
	MaxFilesPerDocument int
	MaxFileBytes        int64
	NormalizeTimeout    time.Duration
	OCRTimeout          time.Duration
	ClassifyTimeout     time.Duration
}

func (c *Config) normalize() {
	if c.MaxFilesPerDocument <= 0 {
		c.MaxFilesPerDocument = 5
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 10 << 20
	}
	if c.NormalizeTimeout <= 0 {
		c.NormalizeTimeout = 5 * time.Second
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 15 * time.Second
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 30 * time.Second
	}
}

type Orchestrator struct {
	cfg        Config
	normalizer *imaging.Normalizer
	extractor  textExtractor
	classifier docClassifier
	dir        *directory.Directory
	docs       repository.DocumentRepository
	feedback   repository.FeedbackRepository
	store      BlobStore
	events     notify.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewOrchestrator(
	cfg Config,
	normalizer *imaging.Normalizer,
	extractor textExtractor,
	classifier docClassifier,
	dir *directory.Directory,
	docs repository.DocumentRepository,
	feedback repository.FeedbackRepository,
	store BlobStore,
	events notify.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = (*notify.NATSPublisher)(nil)
	}
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{
		cfg:        cfg,
		normalizer: normalizer,
		extractor:  extractor,
		classifier: classifier,
		dir:        dir,
		docs:       docs,
		feedback:   feedback,
		store:      store,
		events:     events,
		metrics:    m,
		logger:     logger,
	}
}

// storedImage is one fully persisted normalization result.
type storedImage struct {
	desc    entity.ImageDescriptor
	ocrPath string
}

// Ingest runs the full flow for one document. Validation and normalization
// happen before any row is written: a corrupt upload leaves no partial
// document behind. After the document row exists, stage failures degrade
// (empty text escalates the classifier) or land the document in FAILED,
// never in a half-written state.
func (o *Orchestrator) Ingest(ctx context.Context, files []UploadFile, meta UploadMeta) (*entity.Document, error) {
	start := time.Now()
	if meta.UploadedBy == "" {
		meta.UploadedBy = common.UploaderIDFromContext(ctx)
	}
	log := o.logger.With("uploaded_by", meta.UploadedBy, "files", len(files))
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		log = log.With("request_id", rid)
	}

	if err := o.validateUpload(files); err != nil {
		log.Warn("pipeline.upload_rejected", "error", err)
		return nil, err
	}

	stored, cleanup, err := o.normalizeAndStore(ctx, files)
	if err != nil {
		o.metrics.DocumentsIngested.WithLabelValues("rejected").Inc()
		log.Error("pipeline.normalize_failed", "error", err)
		return nil, err
	}

	doc := &entity.Document{
		Images:     descriptors(stored),
		Status:     constants.StatusPending,
		Method:     constants.MethodPending,
		UploadedBy: meta.UploadedBy,
	}
	if meta.SiteName != "" {
		siteName := meta.SiteName
		doc.SiteName = &siteName
	}
	if err := o.docs.Create(ctx, doc); err != nil {
		cleanup()
		return nil, err
	}
	log = log.With("document_id", doc.ID, "doc_uuid", doc.DocUUID)
	log.Info("pipeline.document_created", "images", len(doc.Images))
	_ = o.events.Publish(ctx, notify.Event{
		Kind:       notify.EventDocumentCreated,
		DocumentID: doc.ID.String(),
		UploadedBy: meta.UploadedBy,
	})

	if err := o.docs.SetStatus(ctx, doc.ID, constants.StatusProcessing); err != nil {
		return nil, err
	}
	doc.Status = constants.StatusProcessing

	text := o.extractText(ctx, log, stored[0].ocrPath)
	outcome := o.runClassifier(ctx, classify.Request{
		OCRText:   text,
		ImagePath: stored[0].desc.Path,
		Strategy:  meta.Strategy,
	})

	if err := o.persistOutcome(ctx, doc, text, outcome, time.Since(start)); err != nil {
		return nil, err
	}
	o.recordOutcome(ctx, log, doc, outcome)
	return doc, nil
}

// AddImages attaches more images to an existing document. The document is
// not re-classified; the operator asks for that explicitly.
func (o *Orchestrator) AddImages(ctx context.Context, docID uuid.UUID, files []UploadFile) (*entity.Document, error) {
	doc, err := o.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		return nil, common.WrapError(common.ErrInvalidInput,
			fmt.Sprintf("document is %s", doc.Status))
	}
	if len(files) == 0 {
		return nil, common.WrapError(common.ErrInvalidInput, "no files provided")
	}
	if len(doc.Images)+len(files) > o.cfg.MaxFilesPerDocument {
		return nil, common.WrapError(common.ErrInvalidInput,
			fmt.Sprintf("document would exceed %d images", o.cfg.MaxFilesPerDocument))
	}
	if err := o.validateFiles(files); err != nil {
		return nil, err
	}

	stored, cleanup, err := o.normalizeAndStore(ctx, files)
	if err != nil {
		return nil, err
	}
	if err := o.docs.AppendImages(ctx, docID, descriptors(stored)); err != nil {
		cleanup()
		return nil, err
	}
	o.logger.Info("pipeline.images_added", "document_id", docID, "added", len(stored))
	return o.docs.GetByID(ctx, docID)
}

// Reclassify re-runs the staged classifier for an existing document. Cost
// accumulates on the document; stored OCR text is reused when present and
// re-extracted otherwise.
func (o *Orchestrator) Reclassify(ctx context.Context, docID uuid.UUID, strategy classify.Strategy) (*entity.Document, error) {
	start := time.Now()
	doc, err := o.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status.IsTerminal() {
		return nil, common.WrapError(common.ErrInvalidInput,
			fmt.Sprintf("document is %s", doc.Status))
	}
	primary := doc.Primary()
	if primary == nil {
		return nil, common.WrapError(common.ErrInvalidInput, "document has no images")
	}
	log := o.logger.With("document_id", doc.ID)

	if err := o.docs.SetStatus(ctx, doc.ID, constants.StatusProcessing); err != nil {
		return nil, err
	}

	var text string
	if doc.OCRText != nil && strings.TrimSpace(*doc.OCRText) != "" {
		text = *doc.OCRText
	} else {
		text = o.extractText(ctx, log, ocrVariantPath(primary.Path))
	}

	outcome := o.runClassifier(ctx, classify.Request{
		OCRText:   text,
		ImagePath: primary.Path,
		Strategy:  strategy,
	})
	if err := o.persistOutcome(ctx, doc, text, outcome, time.Since(start)); err != nil {
		return nil, err
	}
	o.recordOutcome(ctx, log, doc, outcome)
	return doc, nil
}

// ManualClassify applies an operator's correction: the chosen entity is
// final at full confidence, and the previous machine guess is recorded as
// feedback for accuracy tracking.
func (o *Orchestrator) ManualClassify(ctx context.Context, docID, entityID uuid.UUID, reason string) (*entity.Document, error) {
	doc, err := o.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status == constants.StatusDeleted {
		return nil, common.WrapError(common.ErrInvalidInput, "document is deleted")
	}
	ent, err := o.dir.ByID(ctx, entityID)
	if err != nil {
		return nil, common.WrapError(err, "resolve entity")
	}

	fb := &entity.Feedback{
		DocumentID:  doc.ID,
		PredictedID: doc.EntityID,
		ActualID:    ent.ID,
		Reason:      reason,
	}
	if err := o.feedback.Record(ctx, fb); err != nil {
		return nil, err
	}

	confidence := 1.0
	id := ent.ID
	upd := repository.ClassificationUpdate{
		EntityID:     &id,
		Method:       constants.MethodManual,
		Confidence:   &confidence,
		Reasoning:    reason,
		Status:       constants.StatusCompleted,
		ProcessingMS: doc.ProcessingMS,
	}
	if err := o.docs.UpdateClassification(ctx, doc.ID, upd); err != nil {
		return nil, err
	}
	o.metrics.Classifications.WithLabelValues(string(constants.MethodManual)).Inc()
	o.logger.Info("pipeline.manual_classified",
		"document_id", doc.ID,
		"entity_id", ent.ID,
		"was_correct", fb.IsCorrect,
	)
	_ = o.events.Publish(ctx, notify.Event{
		Kind:       notify.EventDocumentClassified,
		DocumentID: doc.ID.String(),
		EntityName: ent.Name,
		Method:     string(constants.MethodManual),
		Confidence: confidence,
	})
	return o.docs.GetByID(ctx, doc.ID)
}

// Delete soft-deletes a document; images stay in the blob store until an
// explicit purge.
func (o *Orchestrator) Delete(ctx context.Context, docID uuid.UUID) error {
	return o.docs.SoftDelete(ctx, docID)
}

func (o *Orchestrator) validateUpload(files []UploadFile) error {
	if len(files) == 0 {
		return common.WrapError(common.ErrInvalidInput, "no files provided")
	}
	if len(files) > o.cfg.MaxFilesPerDocument {
		return common.WrapError(common.ErrInvalidInput,
			fmt.Sprintf("at most %d files per document", o.cfg.MaxFilesPerDocument))
	}
	return o.validateFiles(files)
}

func (o *Orchestrator) validateFiles(files []UploadFile) error {
	for _, f := range files {
		ext := constants.NormalizeExt(filepath.Ext(f.Filename))
		if !constants.AllowedExt(ext) {
			return common.WrapError(common.ErrInvalidInput,
				fmt.Sprintf("unsupported file type %q", ext))
		}
		if int64(len(f.Data)) > o.cfg.MaxFileBytes {
			return common.WrapError(common.ErrInvalidInput,
				fmt.Sprintf("%s exceeds %d bytes", f.Filename, o.cfg.MaxFileBytes))
		}
		if len(f.Data) == 0 {
			return common.WrapError(common.ErrInvalidInput, f.Filename+" is empty")
		}
	}
	return nil
}

// normalizeAndStore produces and persists the artifact set for every file.
// All-or-nothing: the first failure aborts and already stored artifacts for
// this batch are removed. The returned cleanup removes the whole batch so
// callers can roll back when a later step fails before the images are
// referenced by a document row.
func (o *Orchestrator) normalizeAndStore(ctx context.Context, files []UploadFile) ([]storedImage, func(), error) {
	var stored []storedImage
	var keys []string
	cleanup := func() {
		for _, k := range keys {
			_ = o.store.Remove(ctx, k)
		}
	}

	for _, f := range files {
		stageStart := time.Now()
		art, err := o.normalizeWithTimeout(ctx, f)
		o.metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(stageStart).Seconds())
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		mainKey := art.StorageKey + "/main.jpg"
		thumbKey := art.StorageKey + "/thumb.jpg"
		ocrKey := art.StorageKey + "/ocr.png"

		mainPath, err := o.store.Put(ctx, mainKey, art.Main)
		if err == nil {
			keys = append(keys, mainKey)
			_, err = o.store.Put(ctx, thumbKey, art.Thumbnail)
		}
		if err == nil {
			keys = append(keys, thumbKey)
			_, err = o.store.Put(ctx, ocrKey, art.OCRVariant)
		}
		if err != nil {
			cleanup()
			return nil, nil, common.ProcessingError("store artifacts", err)
		}
		keys = append(keys, ocrKey)

		stored = append(stored, storedImage{
			desc: entity.ImageDescriptor{
				Path:     mainPath,
				ByteSize: art.Meta.ByteSize,
				MIMEType: art.Meta.MIMEType,
				Width:    art.Meta.Width,
				Height:   art.Meta.Height,
			},
			ocrPath: ocrVariantPath(mainPath),
		})
	}
	return stored, cleanup, nil
}

// normalizeWithTimeout bounds one CPU-heavy normalization run. A pathological
// input (decompression bomb) times out instead of stalling the pipeline.
func (o *Orchestrator) normalizeWithTimeout(ctx context.Context, f UploadFile) (*imaging.Artifacts, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.NormalizeTimeout)
	defer cancel()

	type outcome struct {
		art *imaging.Artifacts
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		art, err := o.normalizer.Normalize(f.Data, f.Filename)
		ch <- outcome{art, err}
	}()
	select {
	case <-ctx.Done():
		return nil, common.ProcessingError("normalize "+f.Filename, ctx.Err())
	case out := <-ch:
		return out.art, out.err
	}
}

// extractText OCRs the primary image's recognition variant. Extraction
// failure degrades to empty text so the classifier can escalate to vision
// instead of failing the whole document.
func (o *Orchestrator) extractText(ctx context.Context, log *slog.Logger, ocrPath string) string {
	stageStart := time.Now()
	o.metrics.OCRInFlight.Inc()
	defer o.metrics.OCRInFlight.Dec()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.OCRTimeout)
	defer cancel()

	res, err := o.extractor.Extract(ctx, ocrPath)
	o.metrics.StageDuration.WithLabelValues("ocr").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		log.Warn("pipeline.ocr_failed", "path", ocrPath, "error", err)
		return ""
	}
	log.Info("pipeline.ocr_ok",
		"ocr_confidence", res.Confidence,
		"words", res.WordCount,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res.Text
}

func (o *Orchestrator) runClassifier(ctx context.Context, req classify.Request) classify.Outcome {
	stageStart := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
	defer cancel()

	outcome := o.classifier.Classify(ctx, req)
	o.metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(stageStart).Seconds())
	return outcome
}

// persistOutcome writes the classification result back onto doc and mirrors
// the persisted fields in memory so callers get the updated document
// without a re-read.
func (o *Orchestrator) persistOutcome(
	ctx context.Context,
	doc *entity.Document,
	text string,
	outcome classify.Outcome,
	elapsed time.Duration,
) error {
	status := constants.StatusClassified
	if outcome.Method == constants.MethodError {
		status = constants.StatusFailed
	}
	confidence := outcome.Confidence

	upd := repository.ClassificationUpdate{
		EntityID:     outcome.EntityID,
		Method:       outcome.Method,
		Confidence:   &confidence,
		Reasoning:    outcome.Reasoning,
		Status:       status,
		AddCostUSD:   outcome.CostUSD,
		ProcessingMS: elapsed.Milliseconds(),
	}
	if strings.TrimSpace(text) != "" {
		upd.OCRText = &text
	}
	if err := o.docs.UpdateClassification(ctx, doc.ID, upd); err != nil {
		return err
	}

	doc.EntityID = outcome.EntityID
	doc.Method = outcome.Method
	doc.Confidence = &confidence
	doc.Reasoning = outcome.Reasoning
	doc.Status = status
	doc.CostUSD += outcome.CostUSD
	doc.ProcessingMS = elapsed.Milliseconds()
	if upd.OCRText != nil {
		doc.OCRText = upd.OCRText
	}
	return nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, log *slog.Logger, doc *entity.Document, outcome classify.Outcome) {
	o.metrics.DocumentsIngested.WithLabelValues(string(doc.Status)).Inc()
	o.metrics.Classifications.WithLabelValues(string(outcome.Method)).Inc()
	if outcome.CostUSD > 0 {
		o.metrics.AICostUSD.Add(outcome.CostUSD)
	}

	entityName := ""
	if outcome.EntityID != nil {
		if ent, err := o.dir.ByID(ctx, *outcome.EntityID); err == nil {
			entityName = ent.Name
		}
	}

	log.Info("pipeline.document_finished",
		"status", string(doc.Status),
		"method", string(outcome.Method),
		"entity", entityName,
		"confidence", outcome.Confidence,
		"cost_usd", outcome.CostUSD,
		"attempts", len(outcome.Attempts),
		"processing_ms", doc.ProcessingMS,
	)

	ev := notify.Event{
		DocumentID: doc.ID.String(),
		EntityName: entityName,
		Method:     string(outcome.Method),
		Confidence: outcome.Confidence,
		UploadedBy: doc.UploadedBy,
	}
	if doc.Status == constants.StatusFailed {
		ev.Kind = notify.EventDocumentFailed
		ev.Reason = outcome.Reasoning
	} else {
		ev.Kind = notify.EventDocumentClassified
	}
	_ = o.events.Publish(ctx, ev)
}

func descriptors(stored []storedImage) []entity.ImageDescriptor {
	out := make([]entity.ImageDescriptor, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.desc)
	}
	return out
}

// ocrVariantPath maps a stored main artifact path to its sibling OCR
// variant. Artifacts of one image always share a storage-key directory.
func ocrVariantPath(mainPath string) string {
	return filepath.Join(filepath.Dir(mainPath), "ocr.png")
}
