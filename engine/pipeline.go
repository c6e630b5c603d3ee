package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// Notifier receives results that flagged something
type Notifier interface {
	Notify(ctx context.Context, result model.ComparisonResult) error
}

// maxPooledBuffer keeps unusually large uploads from pinning memory in the pool
const maxPooledBuffer = 32 << 20

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Engine runs the analysis pipeline: extract, classify and structure,
// look up the template, compare, notify.
type Engine struct {
	extractor  TextExtractor
	structurer ClauseExtractor
	classifier TypeClassifier
	comparator ClauseComparator
	templates  *TemplateStore
	notifiers  []Notifier
	timeout    time.Duration
}

// Option customises an Engine
type Option func(*Engine)

// WithExtractor replaces the PDF extractor
func WithExtractor(x TextExtractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithStructurer replaces the model backed clause structurer
func WithStructurer(s ClauseExtractor) Option {
	return func(e *Engine) { e.structurer = s }
}

// WithClassifier replaces the model backed classifier
func WithClassifier(c TypeClassifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithComparator replaces the model backed comparator
func WithComparator(c ClauseComparator) Option {
	return func(e *Engine) { e.comparator = c }
}

// WithNotifiers registers notifiers for flagged results
func WithNotifiers(n ...Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n...) }
}

// New creates an engine whose model backed stages all use gen
func New(cfg *config.EngineConfig, gen Generator, templates *TemplateStore, opts ...Option) *Engine {
	e := &Engine{
		extractor:  NewPDFExtractor(),
		structurer: NewStructurer(gen, cfg),
		classifier: NewClassifier(gen, cfg),
		comparator: NewComparator(gen, cfg, nil),
		templates:  templates,
		timeout:    cfg.AnalysisTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Templates returns the store the engine reads from
func (e *Engine) Templates() *TemplateStore {
	return e.templates
}

// Analyze runs the full pipeline over one document
func (e *Engine) Analyze(ctx context.Context, r io.Reader) (*model.Report, error) {
	return e.AnalyzeWithID(ctx, uuid.NewString(), r)
}

// AnalyzeWithID is Analyze with a caller chosen report ID. The returned
// report is never nil; on failure it carries whatever was learned before
// the failing stage.
func (e *Engine) AnalyzeWithID(ctx context.Context, id string, r io.Reader) (*model.Report, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx = logger.WithValue(ctx, logger.AnalysisIDKey, id)
	start := time.Now()
	report := &model.Report{ID: id, AgreementType: model.AgreementUnknown}

	segs, err := e.readSegments(ctx, r)
	if err != nil {
		return fail(ctx, report, err)
	}
	report.PageCount = len(segs)
	logger.Info(ctx, "document extracted", "pages", len(segs), "chars", TotalLength(segs))

	agreement, set, err := e.classifyAndStructure(ctx, segs)
	if err != nil {
		return fail(ctx, report, err)
	}
	report.AgreementType = agreement
	if agreement == model.AgreementUnknown {
		report.Status = model.ReportUnclassified
		logger.Info(ctx, "document not classified, comparison skipped")
		return report, nil
	}
	report.Clauses = set.Clauses
	report.Summarized = set.Summarized

	tpl, err := e.templates.Get(agreement)
	if err != nil {
		report.Status = model.ReportTemplateUnavailable
		report.Failure = err.Error()
		logger.Warn(ctx, "no template for agreement type", "agreement_type", agreement)
		return report, err
	}

	result, err := e.comparator.Compare(ctx, set.Clauses, tpl)
	if err != nil {
		return fail(ctx, report, err)
	}
	report.Status = model.ReportCompleted
	report.Result = &result

	e.notify(ctx, result)

	logger.Info(ctx, "analysis completed",
		"agreement_type", agreement,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// BuildTemplate extracts and structures a reference document into a
// template for t.
func (e *Engine) BuildTemplate(ctx context.Context, t model.AgreementType, r io.Reader) (model.Template, error) {
	segs, err := e.readSegments(ctx, r)
	if err != nil {
		return model.Template{}, err
	}
	set, err := e.structurer.Structure(ctx, segs)
	if err != nil {
		return model.Template{}, err
	}
	return model.NewTemplate(t, set.Clauses, time.Now()), nil
}

func (e *Engine) readSegments(ctx context.Context, r io.Reader) ([]model.Segment, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			buf.Reset()
			bufPool.Put(buf)
		}
	}()

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, stageErr(StageExtract, ErrExtraction, fmt.Errorf("read upload: %w", err))
	}

	reader, err := e.extractor.Extract(ctx, buf.Bytes())
	if err != nil {
		return nil, asStageErr(ctx, StageExtract, ErrExtraction, err)
	}
	defer reader.Close()

	segs, err := ReadAllSegments(ctx, reader)
	if err != nil {
		return nil, asStageErr(ctx, StageExtract, ErrExtraction, err)
	}
	return segs, nil
}

// classifyAndStructure runs both model stages concurrently. The
// classification decides: an UNKNOWN type cancels structuring and makes its
// outcome irrelevant, a classification failure cancels it too.
func (e *Engine) classifyAndStructure(ctx context.Context, segs []model.Segment) (model.AgreementType, ClauseSet, error) {
	g, gctx := errgroup.WithContext(ctx)
	sctx, stopStructure := context.WithCancel(gctx)
	defer stopStructure()

	var (
		agreement model.AgreementType
		set       ClauseSet
		structErr error
	)
	text := JoinSegments(segs)

	g.Go(func() error {
		t, err := e.classifier.Classify(gctx, text)
		if err != nil {
			return asStageErr(gctx, StageClassify, ErrClassificationService, err)
		}
		agreement = t
		if t == model.AgreementUnknown {
			stopStructure()
		}
		return nil
	})
	g.Go(func() error {
		s, err := e.structurer.Structure(sctx, segs)
		if err != nil {
			structErr = asStageErr(sctx, StageStructure, ErrExtractionService, err)
			return nil
		}
		set = s
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.AgreementUnknown, ClauseSet{}, err
	}
	if agreement == model.AgreementUnknown {
		return agreement, ClauseSet{}, nil
	}
	if structErr != nil {
		return model.AgreementUnknown, ClauseSet{}, structErr
	}
	return agreement, set, nil
}

func (e *Engine) notify(ctx context.Context, result model.ComparisonResult) {
	if result.RiskScore <= 0 {
		return
	}
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, result); err != nil {
			logger.Warn(ctx, "notification failed", "notifier", fmt.Sprintf("%T", n), "error", err)
		}
	}
}

// asStageErr keeps stage errors as they are and attributes anything else
// to stage, using the context error as kind when the run was cancelled.
func asStageErr(ctx context.Context, stage Stage, kind, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stageErr(stage, ctxErr, err)
	}
	return stageErr(stage, kind, err)
}

func fail(ctx context.Context, report *model.Report, err error) (*model.Report, error) {
	report.Status = model.ReportFailed
	report.Failure = err.Error()
	logger.Error(ctx, "analysis failed", "stage", FailedStage(err), "error", err)
	return report, err
}
