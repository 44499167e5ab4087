package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/analysis"
	"github.com/example/ingrediscan/internal/storage"
)

// scriptedStorage wraps MemoryStorage and fails Set calls from a queue.
type scriptedStorage struct {
	*storage.MemoryStorage
	setErrs  []error
	setCalls int
	lastSet  []byte
	deleted  []string
}

func newScriptedStorage(errs ...error) *scriptedStorage {
	return &scriptedStorage{MemoryStorage: storage.NewMemoryStorage(0), setErrs: errs}
}

func (s *scriptedStorage) Set(ctx context.Context, key string, value []byte) error {
	s.setCalls++
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.lastSet = value
	return s.MemoryStorage.Set(ctx, key, value)
}

func (s *scriptedStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return s.MemoryStorage.Delete(ctx, key)
}

func quotaErr() error {
	return fmt.Errorf("%w: full", storage.ErrQuotaExceeded)
}

func testRecord(i int) *Record {
	result := &analysis.Result{
		HealthScore:     "B",
		Summary:         fmt.Sprintf("Contains %d%% safe ingredients", 50+i),
		Risks:           []analysis.Risk{},
		FullIngredients: []string{"Water", "Sugar"},
		Alternatives:    []string{},
	}
	r := NewRecord(result, "data:image/jpeg;base64,dGh1bWI=", "data:image/jpeg;base64,"+strings.Repeat("A", 64), time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC))
	r.ID = fmt.Sprintf("id-%02d", i)
	return r
}

func newStore(backend storage.Storage, opts Options) *Store {
	return New(backend, opts, zap.NewNop())
}

func TestNewRecordDerivesScore(t *testing.T) {
	rec := NewRecord(&analysis.Result{HealthScore: "A", Summary: "Contains 82% safe ingredients"}, "", "", time.Now())
	if rec.Score != 82 {
		t.Fatalf("expected score 82, got %d", rec.Score)
	}
	if rec.ProductName != "Contains 82% safe ingredients" || rec.Grade != "A" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
	if untitled := NewRecord(&analysis.Result{}, "", "", time.Now()); untitled.ProductName != UnknownProduct || untitled.Score != analysis.DefaultScore {
		t.Fatalf("unexpected defaults %+v", untitled)
	}
}

func TestNewIDIsTimeOrdered(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	if a == b || a > b {
		t.Fatalf("expected increasing ids, got %s then %s", a, b)
	}
}

func TestAppendThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStorage(0)
	s := newStore(backend, DefaultOptions())

	first, second := testRecord(1), testRecord(2)
	if out := s.Append(ctx, first); out != Persisted {
		t.Fatalf("unexpected outcome %s", out)
	}
	if out := s.Append(ctx, second); out != Persisted {
		t.Fatalf("unexpected outcome %s", out)
	}

	reloaded := newStore(backend, DefaultOptions())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	list := reloaded.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	got := list[0]
	if got.ID != second.ID || got.Score != second.Score || got.ImageBase64 != second.ImageBase64 {
		t.Fatalf("head mismatch: %+v", got)
	}
	if !got.Date.Equal(second.Date) {
		t.Fatalf("date mismatch: %v vs %v", got.Date, second.Date)
	}
	if got.Analysis.Summary != second.Analysis.Summary {
		t.Fatalf("analysis mismatch: %+v", got.Analysis)
	}
}

func TestAppendTruncatesAboveHighWater(t *testing.T) {
	ctx := context.Background()
	records := []*Record{testRecord(1), testRecord(2), testRecord(3), testRecord(4), testRecord(5)}

	// Size of the four newest-first records, exactly at the mark.
	four := []*Record{records[3], records[2], records[1], records[0]}
	data, err := json.Marshal(four)
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{Key: DefaultKey, HighWaterBytes: len(data), TruncateTo: 3, DegradeTo: 2}
	backend := newScriptedStorage()
	s := newStore(backend, opts)

	for _, r := range records[:4] {
		if out := s.Append(ctx, r); out != Persisted {
			t.Fatalf("expected persisted below the mark, got %s", out)
		}
	}
	if s.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", s.Len())
	}

	if out := s.Append(ctx, records[4]); out != Truncated {
		t.Fatalf("expected truncated, got %s", out)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected exactly 3 records, got %d", len(list))
	}
	if list[0].ID != records[4].ID || list[2].ID != records[2].ID {
		t.Fatalf("unexpected order: %s %s %s", list[0].ID, list[1].ID, list[2].ID)
	}

	var persisted []json.RawMessage
	if err := json.Unmarshal(backend.lastSet, &persisted); err != nil || len(persisted) != 3 {
		t.Fatalf("expected 3 persisted records, got %d (%v)", len(persisted), err)
	}
}

func TestAppendDegradesOnQuota(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage()
	opts := Options{Key: DefaultKey, HighWaterBytes: 1 << 20, TruncateTo: 4, DegradeTo: 2}
	s := newStore(backend, opts)

	for i := 1; i <= 3; i++ {
		s.Append(ctx, testRecord(i))
	}
	backend.setErrs = []error{quotaErr()}

	if out := s.Append(ctx, testRecord(4)); out != Degraded {
		t.Fatalf("expected degraded, got %s", out)
	}
	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	for _, r := range list {
		if r.ImageBase64 != "" {
			t.Fatalf("expected inline image stripped from %s", r.ID)
		}
		if r.Thumbnail == "" {
			t.Fatalf("expected thumbnail kept on %s", r.ID)
		}
	}
	if list[0].ID != "id-04" {
		t.Fatalf("expected newest first, got %s", list[0].ID)
	}
	if strings.Contains(string(backend.lastSet), "imageBase64") {
		t.Fatal("expected persisted blob without inline images")
	}
}

func TestAppendDoesNotMutateOriginalRecordsWhenDegrading(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage(quotaErr())
	s := newStore(backend, DefaultOptions())

	rec := testRecord(1)
	s.Append(ctx, rec)
	if rec.ImageBase64 == "" {
		t.Fatal("expected caller's record to keep its image")
	}
}

func TestAppendDropsWhenRetryFails(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage()
	s := newStore(backend, DefaultOptions())
	s.Append(ctx, testRecord(1))

	backend.setErrs = []error{quotaErr(), quotaErr()}
	if out := s.Append(ctx, testRecord(2)); out != Dropped {
		t.Fatalf("expected dropped, got %s", out)
	}
	if backend.setCalls != 3 {
		t.Fatalf("expected exactly one retry, got %d set calls", backend.setCalls)
	}
	list := s.List()
	if len(list) != 1 || list[0].ID != "id-01" {
		t.Fatalf("expected last persisted state to survive, got %d records", len(list))
	}
}

func TestAppendNonQuotaFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage(errors.New("disk on fire"))
	s := newStore(backend, DefaultOptions())

	if out := s.Append(ctx, testRecord(1)); out != Dropped {
		t.Fatalf("expected dropped, got %s", out)
	}
	if backend.setCalls != 1 {
		t.Fatalf("expected a single write attempt, got %d", backend.setCalls)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty list, got %d", s.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage()
	s := newStore(backend, DefaultOptions())
	s.Append(ctx, testRecord(1))
	s.Append(ctx, testRecord(2))

	if !s.Remove(ctx, "id-01") {
		t.Fatal("expected first removal to succeed")
	}
	calls := backend.setCalls
	if s.Remove(ctx, "id-01") {
		t.Fatal("expected second removal to be a no-op")
	}
	if backend.setCalls != calls {
		t.Fatal("expected no write for a no-op removal")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}

func TestRemoveSurvivesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage()
	s := newStore(backend, DefaultOptions())
	s.Append(ctx, testRecord(1))

	backend.setErrs = []error{errors.New("read-only")}
	if !s.Remove(ctx, "id-01") {
		t.Fatal("expected in-memory removal")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty list, got %d", s.Len())
	}
}

func TestDuplicateIDShadowsOlderRecord(t *testing.T) {
	ctx := context.Background()
	s := newStore(storage.NewMemoryStorage(0), DefaultOptions())
	older, newer := testRecord(1), testRecord(2)
	newer.ID = older.ID
	s.Append(ctx, older)
	s.Append(ctx, newer)

	got, ok := s.Get(older.ID)
	if !ok || got != newer {
		t.Fatal("expected lookup to return the newer record")
	}
	if s.Len() != 2 {
		t.Fatalf("expected both records to remain, got %d", s.Len())
	}
	s.Remove(ctx, older.ID)
	if got, _ := s.Get(older.ID); got != older {
		t.Fatal("expected removal to take the first match only")
	}
}

func TestLoadDiscardsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedStorage()
	_ = backend.MemoryStorage.Set(ctx, DefaultKey, []byte(`{not json`))
	s := newStore(backend, DefaultOptions())

	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != DefaultKey {
		t.Fatalf("expected corrupt blob to be deleted, got %v", backend.deleted)
	}
}

func TestLoadRepairsEntries(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStorage(0)
	blob := `[
		{"id":"a","date":"2025-03-01T10:00:00.000Z","productName":"Contains 64% safe ingredients","grade":"B","thumbnail":"blob:http://x/1"},
		{"id":"b","date":"garbage","productName":"Crisps","grade":"D","score":31,"analysisData":"oops"},
		42,
		{"id":"c","productName":"Soda","grade":"E","analysisData":{"health_score":"E","summary":"Only 12% safe","risks":null,"full_ingredients":["Water"]}}
	]`
	_ = backend.Set(ctx, DefaultKey, []byte(blob))

	s := newStore(backend, DefaultOptions())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}

	a := list[0]
	if a.Analysis == nil || a.Analysis.HealthScore != "B" || a.Analysis.Summary != "Contains 64% safe ingredients" {
		t.Fatalf("expected placeholder analysis, got %+v", a.Analysis)
	}
	if a.Score != 64 {
		t.Fatalf("expected derived score 64, got %d", a.Score)
	}
	if a.Date.IsZero() {
		t.Fatal("expected parsed date")
	}

	b := list[1]
	if b.Score != 31 || b.Analysis.Summary != "Crisps" || !b.Date.IsZero() {
		t.Fatalf("unexpected repaired record %+v", b)
	}

	c := list[2]
	if c.Score != 12 || c.Analysis.Risks == nil || len(c.Analysis.FullIngredients) != 1 {
		t.Fatalf("unexpected record %+v / %+v", c, c.Analysis)
	}
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	s := newStore(storage.NewMemoryStorage(0), DefaultOptions())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty, got %d", s.Len())
	}
}
