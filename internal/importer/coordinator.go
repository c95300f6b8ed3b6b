package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/pointsimport/internal/logging"
	"github.com/JonMunkholm/pointsimport/internal/metrics"
)

// errEmptyFile is reported when a file has no bytes at all.
var errEmptyFile = errors.New("empty file")

// Coordinator drives a run: parse, apply every candidate, build the report.
type Coordinator struct {
	registry *Registry
	applier  RecordApplier
	metrics  *metrics.Import

	workers int
	timeout time.Duration
	newID   func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkers sets how many candidates are applied at once. Values below 2
// apply candidates one at a time in file order.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.workers = n }
}

// WithTimeout bounds the apply stage of a run. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithMetrics records run and row counters.
func WithMetrics(m *metrics.Import) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator that applies records through applier.
func NewCoordinator(applier RecordApplier, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: NewRegistry(),
		applier:  applier,
		workers:  1,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Workers returns the configured apply concurrency.
func (c *Coordinator) Workers() int {
	if c.workers < 1 {
		return 1
	}
	return c.workers
}

// Kinds lists the file kinds this coordinator can parse.
func (c *Coordinator) Kinds() []FileKind {
	return c.registry.Kinds()
}

// Run imports one file and always returns a report. Row problems are
// reported in the report; a file that cannot be read gives a fatal report.
func (c *Coordinator) Run(ctx context.Context, file File, opts ImportOptions) ImportReport {
	start := time.Now()
	importID := c.newID()
	logger := logging.WithFields(ctx, "import_id", importID, "file", file.Name)

	c.metrics.RunStarted()

	kind := file.Kind
	if kind == "" {
		kind, _ = DetectKind(file.Name, "")
	}

	parsed, err := c.parse(kind, file, opts)
	if err != nil {
		report := fatalReport(importID, err)
		logger.Warn("import failed", "kind", kind, "error", err)
		c.metrics.RowFailed(string(KindFatal))
		c.metrics.RunFinished(string(kind), metrics.OutcomeFatal, time.Since(start))
		return report
	}

	logger.Info("import started",
		"kind", kind,
		"candidates", len(parsed.Candidates),
		"parse_errors", len(parsed.Errors),
		"workers", c.Workers(),
	)

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	runCtx = ContextWithImportID(runCtx, importID)

	agg := &aggregator{}
	c.applyAll(runCtx, parsed.Candidates, agg)

	report := agg.report(importID, parsed, endMessage(runCtx))
	c.finish(logger, kind, report, time.Since(start))
	return report
}

func (c *Coordinator) parse(kind FileKind, file File, opts ImportOptions) (ParseResult, error) {
	if len(file.Data) == 0 {
		return ParseResult{}, errEmptyFile
	}
	p, err := c.registry.Parser(kind)
	if err != nil {
		return ParseResult{}, err
	}
	return p.Parse(file.Data, opts)
}

// applyAll applies candidates and reports each outcome to agg. Candidates
// not started before ctx ends are recorded as skipped.
func (c *Coordinator) applyAll(ctx context.Context, candidates []CandidateRecord, agg *aggregator) {
	if c.Workers() == 1 {
		for _, rec := range candidates {
			if ctx.Err() != nil {
				agg.skip(rec.Row)
				continue
			}
			c.applyOne(ctx, rec, agg)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(c.Workers())
	for _, rec := range candidates {
		if ctx.Err() != nil {
			agg.skip(rec.Row)
			continue
		}
		g.Go(func() error {
			c.applyOne(ctx, rec, agg)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

func (c *Coordinator) applyOne(ctx context.Context, rec CandidateRecord, agg *aggregator) {
	rerr := c.applier.Apply(ctx, rec)
	switch {
	case rerr == nil:
		agg.succeed()
	case rerr.Kind == KindTimeout:
		agg.skip(rec.Row)
	default:
		agg.fail(*rerr)
	}
}

// endMessage is the trailing error message used when a run stops early.
func endMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return MsgCancelled
	}
	return MsgTimedOut
}

func (c *Coordinator) finish(logger *slog.Logger, kind FileKind, r ImportReport, d time.Duration) {
	for _, e := range r.Errors {
		logger.Debug("row failed", "row", e.Row, "user_id", e.AccountID, "stage", e.Kind, "message", e.Message)
		if e.Kind != KindTimeout {
			c.metrics.RowFailed(string(e.Kind))
		}
	}
	c.metrics.RowsApplied(r.SuccessCount)
	c.metrics.RowsUnprocessed(r.Unprocessed)

	outcome := metrics.OutcomeSuccess
	switch {
	case r.Unprocessed > 0:
		outcome = metrics.OutcomeTimeout
	case !r.Success:
		outcome = metrics.OutcomePartial
	}
	c.metrics.RunFinished(string(kind), outcome, d)

	attrs := []any{
		"kind", kind,
		"success", r.Success,
		"total", r.TotalProcessed,
		"succeeded", r.SuccessCount,
		"failed", r.FailedCount,
		"duration_ms", d.Milliseconds(),
	}
	if r.Unprocessed > 0 {
		logger.Warn("import stopped early", append(attrs, "unprocessed", r.Unprocessed)...)
		return
	}
	logger.Info("import completed", attrs...)
}
