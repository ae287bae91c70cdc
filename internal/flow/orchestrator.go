// Package flow drives one file through validation, staging, stripping and
// delivery, and guarantees cleanup on every exit path.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/metaeraser/internal/media"
	"github.com/memohai/metaeraser/internal/messages"
	"github.com/memohai/metaeraser/internal/policy"
	"github.com/memohai/metaeraser/internal/progress"
	"github.com/memohai/metaeraser/internal/storage"
)

const DefaultTransferTimeout = 5 * time.Minute

// Replier talks back to the conversation a request came from.
type Replier interface {
	SendText(ctx context.Context, text string) (string, error)
	SendDocument(ctx context.Context, path, filename string) error
	EditText(ctx context.Context, messageID, text string) error
	Delete(ctx context.Context, messageID string) error
}

// Event is one inbound file request. Upload is nil when the message carried
// no file.
type Event struct {
	RequestID  string
	Upload     *media.Upload
	SenderID   string
	SenderName string
	Replier    Replier
}

// Result is the terminal state of a request. Err is set for Rejected and Failed.
type Result struct {
	State    State
	Category media.Category
	Err      error
}

// Stats counts terminal outcomes since start.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
}

// Options tunes an Orchestrator.
type Options struct {
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	MinEditInterval time.Duration
}

// Orchestrator runs the per-request state machine.
type Orchestrator struct {
	store     *storage.Store
	strippers media.Strippers
	limits    policy.Table
	catalog   *messages.Catalog
	opts      Options
	logger    *slog.Logger

	delivered atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// NewOrchestrator creates an Orchestrator. A nil catalog uses the embedded replies.
func NewOrchestrator(log *slog.Logger, store *storage.Store, strippers media.Strippers, limits policy.Table, catalog *messages.Catalog, opts Options) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if catalog == nil {
		catalog = messages.Default()
	}
	if limits == nil {
		limits = policy.DefaultTable()
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultTransferTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultTransferTimeout
	}
	return &Orchestrator{
		store:     store,
		strippers: strippers,
		limits:    limits,
		catalog:   catalog,
		opts:      opts,
		logger:    log.With(slog.String("component", "flow")),
	}
}

// Stats returns a snapshot of the outcome counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Delivered: o.delivered.Load(),
		Rejected:  o.rejected.Load(),
		Failed:    o.failed.Load(),
	}
}

// Handle runs ev to a terminal state. The user receives exactly one message
// per outcome: the cleaned document on success, a reason otherwise. Staged
// and processed files are removed before Handle returns.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) (res Result) {
	started := time.Now()
	requestID := strings.TrimSpace(ev.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := o.logger.With(
		slog.String("request_id", requestID),
		slog.String("sender_id", ev.SenderID),
		slog.String("sender", ev.SenderName),
	)
	defer func() {
		o.record(res.State)
		attrs := []any{
			slog.String("state", res.State.String()),
			slog.String("category", string(res.Category)),
			slog.Duration("duration", time.Since(started)),
		}
		if res.Err != nil {
			attrs = append(attrs, slog.Any("error", res.Err))
		}
		log.Info("request finished", attrs...)
	}()

	if ev.Replier == nil {
		return Result{State: StateFailed, Err: errors.New("replier is required")}
	}

	req, err := policy.Validate(ev.Upload, o.limits)
	if err != nil {
		return o.reject(ctx, log, ev.Replier, "", err)
	}
	log.Debug("validated", slog.String("category", string(req.Category)), slog.Int64("size", req.Size))
	return o.process(ctx, log, ev.Replier, req)
}

// process covers Validated through CleanedUp. Everything it creates is
// released by the deferred cleanup, including after a panic.
func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, replier Replier, req media.FileRequest) (res Result) {
	var (
		staged   storage.StagedFile
		outPaths []string
		reporter *progress.Reporter
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", slog.Any("panic", r))
			res = Result{
				State:    StateFailed,
				Category: req.Category,
				Err:      fmt.Errorf("%w: panic: %v", media.ErrProcessingFailed, r),
			}
			o.reply(ctx, log, replier, o.catalog.ProcessingFailed)
		}
		cleanupCtx := context.WithoutCancel(ctx)
		for _, path := range append(outPaths, staged.Path) {
			if err := o.store.Release(path); err != nil {
				log.Warn("release failed", slog.String("path", path), slog.Any("error", err))
			}
		}
		if reporter != nil {
			reporter.Retire(cleanupCtx)
		}
		if res.State == StateDelivered {
			res.State = StateCleanedUp
		}
	}()

	downloadCtx, cancel := context.WithTimeout(ctx, o.opts.DownloadTimeout)
	staged, err := o.store.Stage(downloadCtx, req.Handle, req.Name, o.limits.MaxBytes(req.Category))
	cancel()
	if err != nil {
		var limitErr *storage.LimitError
		if errors.As(err, &limitErr) {
			limit, _ := o.limits.Limit(req.Category)
			return o.reject(ctx, log, replier, req.Category, &media.PolicyError{
				Reason:   media.ErrSizeLimitExceeded,
				Category: req.Category,
				ActualMB: media.BytesToMB(limitErr.Read),
				LimitMB:  limit,
			})
		}
		return o.fail(ctx, log, replier, req.Category, o.catalog.DownloadFailed, err)
	}
	log.Debug("staged", slog.String("path", staged.Path), slog.Int64("bytes", staged.Size))

	stripper, err := o.strippers.Lookup(req.Category)
	if err != nil {
		return o.fail(ctx, log, replier, req.Category, o.catalog.Unprocessable(req.Category), err)
	}

	reporter = progress.Start(ctx, replier, progress.Options{
		MinEditInterval: o.opts.MinEditInterval,
		Logger:          log,
	})
	outPath := o.store.Reserve(staged, outputExt(req))
	outPaths = append(outPaths, outPath)
	processed, err := stripper.Strip(ctx, staged.Path, media.Hints{
		Name:    req.Name,
		Mime:    firstNonEmpty(staged.Mime, req.Mime),
		Caption: req.Caption,
	}, outPath)
	if err != nil {
		return o.fail(ctx, log, replier, req.Category, o.catalog.ProcessingFailed, err)
	}
	if processed.Path != "" && processed.Path != outPath {
		outPaths = append(outPaths, processed.Path)
	}
	reporter.Milestone(ctx, 50)

	uploadCtx, cancel := context.WithTimeout(ctx, o.opts.UploadTimeout)
	err = replier.SendDocument(uploadCtx, processed.Path, processed.Name)
	cancel()
	if err != nil {
		return o.fail(ctx, log, replier, req.Category, o.catalog.DeliveryFailed, fmt.Errorf("deliver: %w", err))
	}
	reporter.Milestone(ctx, 100)
	return Result{State: StateDelivered, Category: req.Category}
}

func (o *Orchestrator) reject(ctx context.Context, log *slog.Logger, replier Replier, category media.Category, err error) Result {
	var policyErr *media.PolicyError
	if !errors.As(err, &policyErr) {
		policyErr = &media.PolicyError{Reason: media.ErrUnsupportedType, Category: category}
	}
	if policyErr.Category != "" {
		category = policyErr.Category
	}
	o.reply(ctx, log, replier, o.catalog.Rejection(policyErr))
	return Result{State: StateRejected, Category: category, Err: err}
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, replier Replier, category media.Category, text string, err error) Result {
	log.Error("request failed", slog.String("category", string(category)), slog.Any("error", err))
	o.reply(ctx, log, replier, text)
	return Result{State: StateFailed, Category: category, Err: err}
}

// reply is best-effort; the outcome is already decided.
func (o *Orchestrator) reply(ctx context.Context, log *slog.Logger, replier Replier, text string) {
	if _, err := replier.SendText(context.WithoutCancel(ctx), text); err != nil {
		log.Warn("send reply failed", slog.Any("error", err))
	}
}

func (o *Orchestrator) record(state State) {
	switch state {
	case StateCleanedUp:
		o.delivered.Add(1)
	case StateRejected:
		o.rejected.Add(1)
	case StateFailed:
		o.failed.Add(1)
	}
}

func outputExt(req media.FileRequest) string {
	if req.Category == media.CategoryVideo {
		return ".mp4"
	}
	return filepath.Ext(req.Name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
