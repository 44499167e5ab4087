// Package projector turns an analysis result into the ingredient breakdown and
// health badge shown on the results surface. Everything here is pure.
package projector

import (
	"regexp"
	"strings"

	"github.com/example/ingrediscan/internal/analysis"
)

// Impact is the display polarity of an ingredient.
type Impact string

const (
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
	ImpactPositive Impact = "positive"
)

// DefaultDescription is shown for ingredients the service did not describe.
const DefaultDescription = "Ingredient information"

// LowConfidenceThreshold is the confidence below which a warning is shown.
const LowConfidenceThreshold = 0.7

var additiveCode = regexp.MustCompile(`\(([A-Z]\d+)\)`)
var additiveCodeSpan = regexp.MustCompile(`\s*\([A-Z]\d+\)\s*`)

// Ingredient is one row of the breakdown.
type Ingredient struct {
	Name        string   `json:"name"`
	Code        string   `json:"code,omitempty"`
	Description string   `json:"description"`
	Impact      Impact   `json:"impact"`
	Allergens   []string `json:"allergens,omitempty"`
}

// Project builds the ingredient list: risks first in service order, then any
// full ingredient whose cleaned name is not already present. allergens is the
// user's selected profile; matching rows are flagged.
func Project(result *analysis.Result, allergens []string) []Ingredient {
	if result == nil {
		return []Ingredient{}
	}
	out := make([]Ingredient, 0, len(result.Risks)+len(result.FullIngredients))
	seen := make(map[string]struct{}, cap(out))

	add := func(ing Ingredient) {
		if _, dup := seen[ing.Name]; dup {
			return
		}
		seen[ing.Name] = struct{}{}
		ing.Allergens = MatchAllergens(ing.Name, allergens)
		out = append(out, ing)
	}

	for _, risk := range result.Risks {
		name, code := CleanName(risk.Name)
		add(Ingredient{
			Name:        name,
			Code:        code,
			Description: risk.Desc,
			Impact:      impactFor(risk.Level),
		})
	}
	for _, raw := range result.FullIngredients {
		name, code := CleanName(raw)
		desc, ok := result.DetailFor(raw)
		if !ok {
			if desc, ok = result.DetailFor(name); !ok {
				desc = DefaultDescription
			}
		}
		add(Ingredient{
			Name:        name,
			Code:        code,
			Description: desc,
			Impact:      ImpactPositive,
		})
	}
	return out
}

// CleanName strips a parenthetical additive code such as "(E102)" and returns
// it separately.
func CleanName(name string) (string, string) {
	var code string
	if m := additiveCode.FindStringSubmatch(name); m != nil {
		code = m[1]
	}
	cleaned := strings.TrimSpace(additiveCodeSpan.ReplaceAllString(name, " "))
	return cleaned, code
}

func impactFor(level analysis.RiskLevel) Impact {
	switch level {
	case analysis.RiskHigh:
		return ImpactNegative
	case analysis.RiskModerate:
		return ImpactNeutral
	default:
		return ImpactPositive
	}
}

// Breakdown groups a projected list for rendering.
type Breakdown struct {
	Badge         Badge        `json:"badge"`
	LowConfidence bool         `json:"low_confidence"`
	HighRisk      []Ingredient `json:"high_risk"`
	ModerateRisk  []Ingredient `json:"moderate_risk"`
	Ingredients   []Ingredient `json:"ingredients"`
	AllergenHits  []string     `json:"allergen_hits"`
	Alternatives  []string     `json:"alternatives"`
}

// Build projects result into a full Breakdown.
func Build(result *analysis.Result, allergens []string) Breakdown {
	ingredients := Project(result, allergens)
	b := Breakdown{
		Badge:         HealthBadge(result),
		LowConfidence: LowConfidence(result),
		HighRisk:      filter(ingredients, ImpactNegative),
		ModerateRisk:  filter(ingredients, ImpactNeutral),
		Ingredients:   ingredients,
		AllergenHits:  []string{},
		Alternatives:  []string{},
	}
	if result != nil && result.Alternatives != nil {
		b.Alternatives = result.Alternatives
	}
	hits := make(map[string]struct{})
	for _, ing := range ingredients {
		for _, a := range ing.Allergens {
			if _, ok := hits[a]; !ok {
				hits[a] = struct{}{}
				b.AllergenHits = append(b.AllergenHits, a)
			}
		}
	}
	return b
}

// LowConfidence reports whether the service flagged its own answer as shaky.
func LowConfidence(result *analysis.Result) bool {
	return result != nil && result.Confidence != nil && *result.Confidence < LowConfidenceThreshold
}

func filter(ingredients []Ingredient, impact Impact) []Ingredient {
	out := []Ingredient{}
	for _, ing := range ingredients {
		if ing.Impact == impact {
			out = append(out, ing)
		}
	}
	return out
}
