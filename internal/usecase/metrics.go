package usecase

import (
	"time"

	"github.com/example/ingrediscan/internal/history"
	"github.com/example/ingrediscan/internal/projector"
)

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	List() []*history.Record
}

// HistorySummary represents aggregated scan history insights.
type HistorySummary struct {
	TotalScans   int                      `json:"total_scans"`
	AverageScore float64                  `json:"average_score"`
	Buckets      map[projector.Bucket]int `json:"buckets"`
	Grades       map[string]int           `json:"grades"`
	LatestScanAt *time.Time               `json:"latest_scan_at,omitempty"`
}

// SummarizeHistory aggregates the records currently held by reader.
func SummarizeHistory(reader HistoryReader) *HistorySummary {
	records := reader.List()
	summary := &HistorySummary{
		TotalScans: len(records),
		Buckets: map[projector.Bucket]int{
			projector.BucketGood: 0,
			projector.BucketFair: 0,
			projector.BucketPoor: 0,
		},
		Grades: map[string]int{},
	}

	var total int
	for _, r := range records {
		total += r.Score
		summary.Buckets[projector.BucketFor(r.Score)]++
		if r.Grade != "" {
			summary.Grades[r.Grade]++
		}
		if !r.Date.IsZero() && (summary.LatestScanAt == nil || r.Date.After(*summary.LatestScanAt)) {
			d := r.Date
			summary.LatestScanAt = &d
		}
	}

	if len(records) > 0 {
		summary.AverageScore = float64(total) / float64(len(records))
	}
	return summary
}
