package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ingrediscan/internal/analysis"
)

// UnknownProduct titles a record whose summary is empty.
const UnknownProduct = "Unknown Product"

// Record is one durable history entry. Records are never mutated after
// creation; degrade paths work on copies.
type Record struct {
	ID          string           `json:"id"`
	Date        time.Time        `json:"date"`
	ProductName string           `json:"productName"`
	Grade       string           `json:"grade"`
	Score       int              `json:"score"`
	Thumbnail   string           `json:"thumbnail"`
	ImageBase64 string           `json:"imageBase64,omitempty"`
	Analysis    *analysis.Result `json:"analysisData"`
}

// NewID returns a time-ordered unique identifier (UUIDv7).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRecord builds the record committed after a successful analysis.
// imageDataURI must be a self-contained data URI or empty.
func NewRecord(result *analysis.Result, thumbnail, imageDataURI string, now time.Time) *Record {
	title := strings.TrimSpace(result.Summary)
	if title == "" {
		title = UnknownProduct
	}
	return &Record{
		ID:          NewID(),
		Date:        now,
		ProductName: title,
		Grade:       result.HealthScore,
		Score:       analysis.ExtractScore(result.Summary),
		Thumbnail:   thumbnail,
		ImageBase64: imageDataURI,
		Analysis:    result,
	}
}

// withoutImage returns a copy with the inline image stripped.
func (r *Record) withoutImage() *Record {
	c := *r
	c.ImageBase64 = ""
	return &c
}

// decodeRecord rebuilds a record field by field so that one bad field never
// costs the whole entry. ok is false only when raw is not a JSON object.
func decodeRecord(raw json.RawMessage) (rec *Record, repaired bool, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false, false
	}

	rec = &Record{
		ID:          stringField(fields, "id"),
		ProductName: stringField(fields, "productName"),
		Grade:       stringField(fields, "grade"),
		Thumbnail:   stringField(fields, "thumbnail"),
		ImageBase64: stringField(fields, "imageBase64"),
	}

	if s := stringField(fields, "date"); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.Date = t
		} else {
			repaired = true
		}
	}

	var result analysis.Result
	if v, present := fields["analysisData"]; present && string(v) != "null" && json.Unmarshal(v, &result) == nil {
		rec.Analysis = result.Normalize()
	} else {
		rec.Analysis = analysis.Placeholder(rec.Grade, rec.ProductName)
		repaired = true
	}

	score, scoreOK := numberField(fields, "score")
	if scoreOK {
		rec.Score = score
	} else {
		rec.Score = analysis.ExtractScore(rec.Analysis.Summary)
		repaired = true
	}

	if rec.ID == "" {
		rec.ID = NewID()
		repaired = true
	}
	return rec, repaired, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if v, ok := fields[key]; ok {
		_ = json.Unmarshal(v, &s)
	}
	return s
}

func numberField(fields map[string]json.RawMessage, key string) (int, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return int(f), true
}
