package projector

import "github.com/example/ingrediscan/internal/analysis"

// Bucket is the coarse health tier behind a badge.
type Bucket string

const (
	BucketGood Bucket = "good"
	BucketFair Bucket = "fair"
	BucketPoor Bucket = "poor"
)

// Badge is the headline grade shown above the breakdown.
type Badge struct {
	Grade  string `json:"grade"`
	Label  string `json:"label"`
	Bucket Bucket `json:"bucket"`
	Score  int    `json:"score"`
}

// BucketFor maps a display score onto its tier.
func BucketFor(score int) Bucket {
	switch {
	case score >= 70:
		return BucketGood
	case score >= 50:
		return BucketFair
	default:
		return BucketPoor
	}
}

var bucketDefaults = map[Bucket]struct{ grade, label string }{
	BucketGood: {"A", "Good"},
	BucketFair: {"B", "Fair"},
	BucketPoor: {"C", "Poor"},
}

// HealthBadge derives the badge from the summary percentage. The service's
// grade wins when present; otherwise the bucket's default letter is used.
// A nil result renders as the neutral default.
func HealthBadge(result *analysis.Result) Badge {
	score := analysis.DefaultScore
	grade := ""
	if result != nil {
		score = analysis.ExtractScore(result.Summary)
		grade = result.HealthScore
	}
	bucket := BucketFor(score)
	def := bucketDefaults[bucket]
	if grade == "" {
		grade = def.grade
	}
	return Badge{Grade: grade, Label: def.label, Bucket: bucket, Score: score}
}
