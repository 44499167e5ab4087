package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/analysis"
	"github.com/example/ingrediscan/internal/apiclient"
	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/imageprocessor"
	"github.com/example/ingrediscan/internal/logging"
)

// Stage is a step of the scan state machine.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageCompressing Stage = "compressing"
	StageUploading   Stage = "uploading"
	StageAnalyzing   Stage = "analyzing"
	StageResults     Stage = "results"
)

// ErrInvalidInput rejects a capture that is not an image. The pipeline stays idle.
var ErrInvalidInput = errors.New("capture is not an image")

// ErrScanInProgress is returned when a second scan starts before the first ends.
var ErrScanInProgress = errors.New("a scan is already in progress")

// ErrScanDiscarded is returned by a scan that was reset before it finished.
var ErrScanDiscarded = errors.New("scan discarded by reset")

// DefaultThumbnailSize bounds the longest edge of history thumbnails.
const DefaultThumbnailSize = 160

// Capture is one raw image handed to the pipeline.
type Capture struct {
	Name      string
	MediaType string
	Data      []byte
}

// State is a snapshot of the pipeline.
type State struct {
	ScanID         string                `json:"scan_id,omitempty"`
	Stage          Stage                 `json:"stage"`
	Progress       int                   `json:"progress"`
	InputError     string                `json:"input_error,omitempty"`
	PreviewURI     string                `json:"preview_uri,omitempty"`
	ImageURI       string                `json:"-"`
	Result         *analysis.Result      `json:"result,omitempty"`
	Failed         bool                  `json:"failed"`
	Score          int                   `json:"score"`
	RecordID       string                `json:"record_id,omitempty"`
	HistoryOutcome history.AppendOutcome `json:"history_outcome,omitempty"`
}

// HistoryAppender is the part of the history store the pipeline writes to.
type HistoryAppender interface {
	Append(ctx context.Context, rec *history.Record) history.AppendOutcome
}

// ScanOptions tunes the pipeline.
type ScanOptions struct {
	Image         imageprocessor.Options
	ThumbnailSize int
	Locale        string
}

// ScanPipeline sequences one scan at a time from capture to results. State is
// guarded by a mutex so snapshots can be read while a scan runs.
type ScanPipeline struct {
	transformer imageprocessor.Transformer
	analyzer    apiclient.Analyzer
	history     HistoryAppender
	previews    *imageprocessor.PreviewRegistry
	opts        ScanOptions
	logger      *zap.Logger
	now         func() time.Time

	mu         sync.Mutex
	state      State
	preview    *imageprocessor.Preview
	running    bool
	generation uint64
	cancel     context.CancelFunc
	observers  []func(State)
}

// NewScanPipeline constructs an idle pipeline.
func NewScanPipeline(transformer imageprocessor.Transformer, analyzer apiclient.Analyzer, hist HistoryAppender, previews *imageprocessor.PreviewRegistry, opts ScanOptions, logger *zap.Logger) *ScanPipeline {
	if opts.Image == (imageprocessor.Options{}) {
		opts.Image = imageprocessor.DefaultOptions()
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultThumbnailSize
	}
	if !analysis.SupportedLocale(opts.Locale) {
		opts.Locale = analysis.LocaleEnglish
	}
	if previews == nil {
		previews = imageprocessor.NewPreviewRegistry()
	}
	return &ScanPipeline{
		transformer: transformer,
		analyzer:    analyzer,
		history:     hist,
		previews:    previews,
		opts:        opts,
		logger:      logger.Named("scan_pipeline"),
		now:         func() time.Time { return time.Now().UTC() },
		state:       State{Stage: StageIdle},
	}
}

// Observe registers fn to receive a snapshot after every transition. Observers
// run synchronously on the scanning goroutine and must not call back into the
// pipeline.
func (p *ScanPipeline) Observe(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// State returns the current snapshot.
func (p *ScanPipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Previews exposes the registry backing preview URIs.
func (p *ScanPipeline) Previews() *imageprocessor.PreviewRegistry {
	return p.previews
}

// Busy reports whether a scan is running.
func (p *ScanPipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Scan runs one capture to completion. Input rejections return an error
// wrapping ErrInvalidInput and leave the pipeline idle; every other failure is
// rendered into the returned state with Failed set. A scan interrupted by
// Reset returns ErrScanDiscarded and leaves no trace in state or history.
func (p *ScanPipeline) Scan(ctx context.Context, capture Capture) (State, error) {
	mediaType, err := imageprocessor.DetectImage(capture.Data, capture.MediaType)
	if err != nil {
		msg := analysis.Message(p.opts.Locale, analysis.ReasonInput)
		p.mu.Lock()
		if !p.running {
			p.state.InputError = msg
		}
		p.mu.Unlock()
		return p.State(), fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	scanID := history.NewID()
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return p.State(), ErrScanInProgress
	}
	p.running = true
	p.generation++
	gen := p.generation
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.releasePreviewLocked()
	preview := p.previews.Create(capture.Data, mediaType)
	p.preview = preview
	p.state = State{ScanID: scanID, Stage: StageCompressing, Progress: 0, PreviewURI: preview.URI()}
	snapshot, observers := p.state, p.observersLocked()
	p.mu.Unlock()
	notify(observers, snapshot)

	defer func() {
		cancel()
		p.mu.Lock()
		if p.generation == gen {
			p.running = false
			p.cancel = nil
			p.releasePreviewLocked()
		}
		p.mu.Unlock()
	}()

	opLogger := logging.WithOperation(p.logger, "usecase.scan", scanID)
	opLogger.Info("scan started",
		zap.String("name", capture.Name),
		zap.String("media_type", mediaType),
		zap.String("size", humanize.IBytes(uint64(len(capture.Data)))),
	)

	if _, ok := p.transition(gen, func(s *State) { s.Progress = 20 }); !ok {
		return p.discarded(opLogger)
	}

	encoded, err := p.transformer.Compress(ctx, capture.Data, p.opts.Image)
	if err != nil {
		return p.fail(opLogger, gen, scanID, logging.NewOperationError("usecase.compress", scanID, err))
	}

	if _, ok := p.transition(gen, func(s *State) {
		s.Stage = StageUploading
		s.Progress = 40
	}); !ok {
		return p.discarded(opLogger)
	}
	payloadURI := encoded.DataURI()

	if _, ok := p.transition(gen, func(s *State) {
		s.Stage = StageAnalyzing
		s.Progress = 60
	}); !ok {
		return p.discarded(opLogger)
	}
	result, err := p.analyzer.Analyze(ctx, encoded.Data, encoded.MediaType)
	if err == nil && result == nil {
		err = &apiclient.ParseError{Err: errors.New("empty analysis result")}
	}
	if err != nil {
		return p.fail(opLogger, gen, scanID, logging.NewOperationError("usecase.analyze", scanID, err))
	}
	result = result.Normalize()

	if result.Failed() {
		opLogger.Warn("analysis service reported an error", zap.String("error_type", string(result.ErrorType)))
		return p.finish(opLogger, gen, func(s *State) {
			s.Result = result
			s.Failed = true
		})
	}

	score := analysis.ExtractScore(result.Summary)
	thumbnail, err := p.transformer.Thumbnail(ctx, encoded.Data, p.opts.ThumbnailSize)
	if err != nil {
		opLogger.Warn("thumbnail generation failed, using compressed payload", zap.Error(err))
		thumbnail = payloadURI
	}

	if !p.current(gen) {
		return p.discarded(opLogger)
	}
	rec := history.NewRecord(result, thumbnail, payloadURI, p.now())
	outcome := p.history.Append(ctx, rec)
	opLogger.Info("scan completed",
		zap.Int("score", score),
		zap.String("record_id", rec.ID),
		zap.String("history_outcome", string(outcome)),
	)

	return p.finish(opLogger, gen, func(s *State) {
		s.Result = result
		s.Score = score
		s.ImageURI = payloadURI
		s.RecordID = rec.ID
		s.HistoryOutcome = outcome
	})
}

// Reset discards any in-flight scan, releases the preview handle and returns
// the pipeline to idle. The discarded scan's context is cancelled and none of
// its later transitions or history writes take effect.
func (p *ScanPipeline) Reset() {
	p.mu.Lock()
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
	p.releasePreviewLocked()
	p.state = State{Stage: StageIdle}
	snapshot, observers := p.state, p.observersLocked()
	p.mu.Unlock()
	notify(observers, snapshot)
}

func (p *ScanPipeline) fail(opLogger *zap.Logger, gen uint64, scanID string, err error) (State, error) {
	if !p.current(gen) {
		return p.discarded(opLogger)
	}
	class := analysis.Classify(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("error_type", string(class.Kind)),
		zap.String("reason", string(class.Reason)),
	}
	if op, ok := logging.FailedOperation(err); ok {
		fields = append(fields, zap.String("failed_operation", op))
	}
	opLogger.Error("scan failed", fields...)
	msg := analysis.Message(p.opts.Locale, class.Reason)
	return p.finish(opLogger, gen, func(s *State) {
		s.Result = analysis.Failure(class.Kind, msg)
		s.Failed = true
	})
}

func (p *ScanPipeline) finish(opLogger *zap.Logger, gen uint64, apply func(*State)) (State, error) {
	snapshot, ok := p.transition(gen, func(s *State) {
		apply(s)
		s.Stage = StageResults
		s.Progress = 100
		s.PreviewURI = ""
	})
	if !ok {
		return p.discarded(opLogger)
	}
	return snapshot, nil
}

func (p *ScanPipeline) discarded(opLogger *zap.Logger) (State, error) {
	opLogger.Info("scan discarded by reset")
	return p.State(), ErrScanDiscarded
}

func (p *ScanPipeline) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == gen
}

// transition applies fn under the lock and notifies observers outside it. It
// reports false, without touching state, once gen has been superseded.
func (p *ScanPipeline) transition(gen uint64, fn func(*State)) (State, bool) {
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		return State{}, false
	}
	prev := p.state.Progress
	fn(&p.state)
	p.state.Progress = max(p.state.Progress, prev)
	snapshot, observers := p.state, p.observersLocked()
	p.mu.Unlock()
	notify(observers, snapshot)
	return snapshot, true
}

func (p *ScanPipeline) observersLocked() []func(State) {
	return append([]func(State){}, p.observers...)
}

func (p *ScanPipeline) releasePreviewLocked() {
	if p.preview != nil {
		p.preview.Release()
		p.preview = nil
	}
}

func notify(observers []func(State), s State) {
	for _, fn := range observers {
		fn(s)
	}
}
