package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/analysis"
	"github.com/example/ingrediscan/internal/apiclient"
	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/imageprocessor"
	"github.com/example/ingrediscan/internal/storage"
)

type stubTransformer struct {
	compressErr  error
	thumbnailErr error
	compressed   int
}

func (s *stubTransformer) Compress(ctx context.Context, raw []byte, opts imageprocessor.Options) (*imageprocessor.Encoded, error) {
	s.compressed++
	if s.compressErr != nil {
		return nil, s.compressErr
	}
	return &imageprocessor.Encoded{Data: []byte("jpeg-bytes"), MediaType: "image/jpeg", Width: 10, Height: 10}, nil
}

func (s *stubTransformer) Thumbnail(ctx context.Context, raw []byte, size int) (string, error) {
	if s.thumbnailErr != nil {
		return "", s.thumbnailErr
	}
	return "data:image/jpeg;base64,dGh1bWI=", nil
}

type stubAnalyzer struct {
	result    *analysis.Result
	err       error
	mediaType string
	calls     int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, payload []byte, mediaType string) (*analysis.Result, error) {
	s.calls++
	s.mediaType = mediaType
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubHistory struct {
	records []*history.Record
	outcome history.AppendOutcome
}

func (s *stubHistory) Append(ctx context.Context, rec *history.Record) history.AppendOutcome {
	s.records = append(s.records, rec)
	if s.outcome == "" {
		return history.Persisted
	}
	return s.outcome
}

func (s *stubHistory) List() []*history.Record {
	return s.records
}

func pngCapture(t *testing.T) Capture {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return Capture{Name: "label.png", MediaType: "image/png", Data: buf.Bytes()}
}

func successResult() *analysis.Result {
	return &analysis.Result{
		HealthScore:     "A",
		Summary:         "Contains 82% safe ingredients",
		Risks:           []analysis.Risk{{Level: analysis.RiskLow, Name: "Salt", Desc: "fine"}},
		FullIngredients: []string{"Salt", "Water"},
	}
}

type fixture struct {
	pipeline    *ScanPipeline
	transformer *stubTransformer
	analyzer    *stubAnalyzer
	history     *stubHistory
	states      []State
}

func newFixture(locale string) *fixture {
	f := &fixture{
		transformer: &stubTransformer{},
		analyzer:    &stubAnalyzer{result: successResult()},
		history:     &stubHistory{},
	}
	f.pipeline = NewScanPipeline(f.transformer, f.analyzer, f.history, nil, ScanOptions{Locale: locale}, zap.NewNop())
	f.pipeline.Observe(func(s State) { f.states = append(f.states, s) })
	return f
}

func TestScanSuccessCommitsRecord(t *testing.T) {
	f := newFixture("en")

	state, err := f.pipeline.Scan(context.Background(), pngCapture(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Stage != StageResults || state.Progress != 100 || state.Failed {
		t.Fatalf("unexpected terminal state %+v", state)
	}
	if state.Score != 82 {
		t.Fatalf("expected score 82, got %d", state.Score)
	}
	if len(f.history.records) != 1 {
		t.Fatalf("expected one record, got %d", len(f.history.records))
	}
	rec := f.history.records[0]
	if rec.Score != 82 || rec.Grade != "A" || rec.ID != state.RecordID {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.HasPrefix(rec.ImageBase64, "data:image/jpeg;base64,") || imageprocessor.IsTransientURI(rec.ImageBase64) {
		t.Fatalf("expected inline image, got %.40s", rec.ImageBase64)
	}
	if !strings.HasPrefix(rec.Thumbnail, "data:") {
		t.Fatalf("expected inline thumbnail, got %s", rec.Thumbnail)
	}
	if f.analyzer.mediaType != "image/jpeg" {
		t.Fatalf("expected compressed media type, got %s", f.analyzer.mediaType)
	}
	if f.pipeline.Previews().Len() != 0 {
		t.Fatal("expected preview to be released")
	}
	if state.PreviewURI != "" {
		t.Fatal("expected preview uri cleared on results")
	}
}

func TestScanStagesAreOrdered(t *testing.T) {
	f := newFixture("en")
	if _, err := f.pipeline.Scan(context.Background(), pngCapture(t)); err != nil {
		t.Fatal(err)
	}

	wantStages := []Stage{StageCompressing, StageCompressing, StageUploading, StageAnalyzing, StageResults}
	wantProgress := []int{0, 20, 40, 60, 100}
	if len(f.states) != len(wantStages) {
		t.Fatalf("expected %d transitions, got %d", len(wantStages), len(f.states))
	}
	for i, s := range f.states {
		if s.Stage != wantStages[i] || s.Progress != wantProgress[i] {
			t.Fatalf("transition %d: got %s/%d, want %s/%d", i, s.Stage, s.Progress, wantStages[i], wantProgress[i])
		}
	}
	if !strings.HasPrefix(f.states[0].PreviewURI, imageprocessor.PreviewScheme) {
		t.Fatalf("expected preview uri during scan, got %q", f.states[0].PreviewURI)
	}
}

func TestScanRejectsNonImage(t *testing.T) {
	cases := []Capture{
		{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello")},
		{Name: "mystery", Data: []byte("plain text pretending")},
	}
	for _, capture := range cases {
		t.Run(capture.Name, func(t *testing.T) {
			f := newFixture("en")
			state, err := f.pipeline.Scan(context.Background(), capture)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if state.Stage != StageIdle || state.InputError == "" {
				t.Fatalf("expected idle with inline error, got %+v", state)
			}
			if f.transformer.compressed != 0 || f.analyzer.calls != 0 || len(f.history.records) != 0 {
				t.Fatal("expected no work for rejected input")
			}
			if len(f.states) != 0 {
				t.Fatalf("expected no transitions, got %d", len(f.states))
			}
		})
	}
}

func TestScanClassifiesFailures(t *testing.T) {
	timeoutErr := &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutError{}}
	cases := []struct {
		name     string
		compress error
		analyze  error
		kind     analysis.Kind
		message  string
	}{
		{"transform", &imageprocessor.TransformError{Op: "decode", Err: errors.New("bad header")}, nil, analysis.KindInvalidImage, analysis.Message("zh", analysis.ReasonImage)},
		{"network", nil, fmt.Errorf("analysis network request failed: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), analysis.KindAPI, analysis.Message("zh", analysis.ReasonNetwork)},
		{"timeout", nil, timeoutErr, analysis.KindAPI, analysis.Message("zh", analysis.ReasonTimeout)},
		{"server", nil, &apiclient.StatusError{StatusCode: 502, Message: "HTTP 502: Bad Gateway"}, analysis.KindServer, analysis.Message("zh", analysis.ReasonServer)},
		{"parse", nil, &apiclient.ParseError{Err: errors.New("unexpected EOF")}, analysis.KindParse, analysis.Message("zh", analysis.ReasonParse)},
		{"config", nil, &apiclient.ConfigError{Host: "example.com"}, analysis.KindAPI, analysis.Message("zh", analysis.ReasonConfig)},
		{"unknown", nil, errors.New("boom"), analysis.KindUnknown, analysis.Message("zh", analysis.ReasonUnknown)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture("zh")
			f.transformer.compressErr = tc.compress
			f.analyzer.err = tc.analyze

			state, err := f.pipeline.Scan(context.Background(), pngCapture(t))
			if err != nil {
				t.Fatalf("expected failure rendered in state, got error %v", err)
			}
			if state.Stage != StageResults || !state.Failed || state.Progress != 100 {
				t.Fatalf("unexpected state %+v", state)
			}
			r := state.Result
			if r.ErrorType != tc.kind || r.Error != tc.message {
				t.Fatalf("got %s %q, want %s %q", r.ErrorType, r.Error, tc.kind, tc.message)
			}
			if len(r.Risks) != 0 || len(r.FullIngredients) != 0 || len(r.Alternatives) != 0 || r.Risks == nil {
				t.Fatalf("expected empty placeholder lists, got %+v", r)
			}
			if len(f.history.records) != 0 {
				t.Fatal("failed scans must not be committed")
			}
			if f.pipeline.Previews().Len() != 0 {
				t.Fatal("expected preview released on failure")
			}
		})
	}
}

func TestScanServiceReportedErrorIsNotCommitted(t *testing.T) {
	f := newFixture("en")
	f.analyzer.result = &analysis.Result{Summary: "leftover", Error: "no label found", ErrorType: analysis.KindInvalidImage}

	state, err := f.pipeline.Scan(context.Background(), pngCapture(t))
	if err != nil {
		t.Fatal(err)
	}
	if !state.Failed || state.Result.Error != "no label found" || state.Result.Summary != "" {
		t.Fatalf("unexpected state %+v", state.Result)
	}
	if len(f.history.records) != 0 {
		t.Fatal("expected nothing committed")
	}
}

func TestScanThumbnailFallsBackToCompressedPayload(t *testing.T) {
	f := newFixture("en")
	f.transformer.thumbnailErr = errors.New("resize failed")

	if _, err := f.pipeline.Scan(context.Background(), pngCapture(t)); err != nil {
		t.Fatal(err)
	}
	rec := f.history.records[0]
	if strings.HasPrefix(rec.Thumbnail, imageprocessor.PreviewScheme) {
		t.Fatalf("thumbnail must not point at a released preview, got %s", rec.Thumbnail)
	}
	if !strings.HasPrefix(rec.Thumbnail, "data:image/jpeg;base64,") || rec.Thumbnail != rec.ImageBase64 {
		t.Fatalf("expected compressed payload as thumbnail, got %s", rec.Thumbnail)
	}
}

func TestScanReportsHistoryOutcome(t *testing.T) {
	f := newFixture("en")
	f.history.outcome = history.Degraded
	state, _ := f.pipeline.Scan(context.Background(), pngCapture(t))
	if state.HistoryOutcome != history.Degraded {
		t.Fatalf("expected degraded outcome, got %s", state.HistoryOutcome)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	f := newFixture("en")
	if _, err := f.pipeline.Scan(context.Background(), pngCapture(t)); err != nil {
		t.Fatal(err)
	}
	f.pipeline.Reset()
	f.pipeline.Reset()

	state := f.pipeline.State()
	if state.Stage != StageIdle || state.Progress != 0 || state.Result != nil || state.ScanID != "" {
		t.Fatalf("expected cleared idle state, got %+v", state)
	}
}

func TestResetDuringScanReleasesPreview(t *testing.T) {
	f := newFixture("en")
	blocking := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{}), result: successResult()}
	f.pipeline.analyzer = blocking

	done := make(chan State, 1)
	go func() {
		state, _ := f.pipeline.Scan(context.Background(), pngCapture(t))
		done <- state
	}()

	select {
	case <-blocking.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not reach analysis")
	}
	if !f.pipeline.Busy() {
		t.Fatal("expected pipeline to be busy")
	}
	if _, err := f.pipeline.Scan(context.Background(), pngCapture(t)); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}

	f.pipeline.Reset()
	if f.pipeline.Previews().Len() != 0 {
		t.Fatal("expected reset to release the preview immediately")
	}
	close(blocking.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish")
	}
	if f.pipeline.Busy() {
		t.Fatal("expected pipeline to be idle after scan")
	}
}

func TestResetDiscardsInFlightScan(t *testing.T) {
	f := newFixture("en")
	blocking := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{}), result: successResult()}
	f.pipeline.analyzer = blocking

	type scanReturn struct {
		state State
		err   error
	}
	done := make(chan scanReturn, 1)
	go func() {
		state, err := f.pipeline.Scan(context.Background(), pngCapture(t))
		done <- scanReturn{state, err}
	}()

	select {
	case <-blocking.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not reach analysis")
	}

	f.pipeline.Reset()
	if f.pipeline.Busy() {
		t.Fatal("expected reset to free the pipeline")
	}
	close(blocking.release)

	var got scanReturn
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish")
	}

	if !errors.Is(got.err, ErrScanDiscarded) {
		t.Fatalf("expected ErrScanDiscarded, got %v", got.err)
	}
	if !errors.Is(blocking.ctxErr, context.Canceled) {
		t.Fatalf("expected analysis context to be cancelled, got %v", blocking.ctxErr)
	}
	state := f.pipeline.State()
	if state.Stage != StageIdle || state.Progress != 0 || state.ScanID != "" || state.Result != nil {
		t.Fatalf("reset state was overwritten: %+v", state)
	}
	if len(f.history.records) != 0 {
		t.Fatalf("discarded scan must not be committed, got %d records", len(f.history.records))
	}

	f.pipeline.analyzer = &stubAnalyzer{result: successResult()}
	next, err := f.pipeline.Scan(context.Background(), pngCapture(t))
	if err != nil || next.Stage != StageResults || len(f.history.records) != 1 {
		t.Fatalf("expected a fresh scan to run after reset, got %+v %v", next, err)
	}
}

func TestScanWithRealHistoryStore(t *testing.T) {
	ctx := context.Background()
	store := history.New(storage.NewMemoryStorage(0), history.DefaultOptions(), zap.NewNop())
	p := NewScanPipeline(&stubTransformer{}, &stubAnalyzer{result: successResult()}, store, nil, ScanOptions{}, zap.NewNop())

	state, err := p.Scan(ctx, pngCapture(t))
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := store.Get(state.RecordID)
	if !ok || rec.Score != 82 {
		t.Fatalf("expected record in store, got %+v", rec)
	}
}

func TestSummarizeHistory(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	reader := &stubHistory{records: []*history.Record{
		{ID: "a", Grade: "A", Score: 82, Date: newer},
		{ID: "b", Grade: "C", Score: 45, Date: older},
		{ID: "c", Grade: "B", Score: 50},
	}}

	s := SummarizeHistory(reader)
	if s.TotalScans != 3 {
		t.Fatalf("expected 3 scans, got %d", s.TotalScans)
	}
	if s.AverageScore != 59 {
		t.Fatalf("expected average 59, got %f", s.AverageScore)
	}
	if s.Buckets["good"] != 1 || s.Buckets["fair"] != 1 || s.Buckets["poor"] != 1 {
		t.Fatalf("unexpected buckets %v", s.Buckets)
	}
	if s.LatestScanAt == nil || !s.LatestScanAt.Equal(newer) {
		t.Fatalf("unexpected latest scan %v", s.LatestScanAt)
	}

	empty := SummarizeHistory(&stubHistory{})
	if empty.TotalScans != 0 || empty.AverageScore != 0 || empty.LatestScanAt != nil {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type blockingAnalyzer struct {
	started chan struct{}
	release chan struct{}
	result  *analysis.Result
	ctxErr  error
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, payload []byte, mediaType string) (*analysis.Result, error) {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	return b.result, nil
}
