// Package analysis defines the structured output of the remote label analysis
// service, its failure taxonomy, and the helpers that derive display values from it.
package analysis

// RiskLevel is the severity the service assigns to a risk entry.
type RiskLevel string

const (
	RiskHigh     RiskLevel = "High"
	RiskModerate RiskLevel = "Moderate"
	RiskLow      RiskLevel = "Low"
)

// Risk is one flagged ingredient. Name may carry a parenthetical additive code,
// e.g. "Tartrazine (E102)".
type Risk struct {
	Level RiskLevel `json:"level"`
	Name  string    `json:"name"`
	Desc  string    `json:"desc"`
}

// IngredientDetail is an optional per-ingredient description.
type IngredientDetail struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Result mirrors the analyze endpoint response body.
//
// Either Error is empty and the remaining fields describe the product, or Error is
// set and every substantive field is an empty placeholder. Normalize enforces this.
type Result struct {
	HealthScore       string             `json:"health_score"`
	Summary           string             `json:"summary"`
	Risks             []Risk             `json:"risks"`
	FullIngredients   []string           `json:"full_ingredients"`
	IngredientsDetail []IngredientDetail `json:"ingredients_detail,omitempty"`
	Alternatives      []string           `json:"alternatives"`
	Confidence        *float64           `json:"confidence,omitempty"`
	Error             string             `json:"error,omitempty"`
	ErrorType         Kind               `json:"error_type,omitempty"`
}

// Failed reports whether the result carries the error indicator.
func (r *Result) Failed() bool {
	return r != nil && r.Error != ""
}

// Normalize replaces nil lists with empty ones and, for failed results, clears
// every substantive field so an error is never reported next to data.
func (r *Result) Normalize() *Result {
	if r == nil {
		return nil
	}
	if r.Failed() {
		kind := r.ErrorType
		if !kind.Valid() {
			kind = KindUnknown
		}
		*r = *Failure(kind, r.Error)
		return r
	}
	r.ErrorType = ""
	if r.Risks == nil {
		r.Risks = []Risk{}
	}
	if r.FullIngredients == nil {
		r.FullIngredients = []string{}
	}
	if r.Alternatives == nil {
		r.Alternatives = []string{}
	}
	return r
}

// Failure builds the placeholder result rendered for a failed scan.
func Failure(kind Kind, message string) *Result {
	return &Result{
		Risks:           []Risk{},
		FullIngredients: []string{},
		Alternatives:    []string{},
		Error:           message,
		ErrorType:       kind,
	}
}

// Placeholder builds a minimal successful result from whatever display fields
// survive on a history record whose payload was lost.
func Placeholder(grade, summary string) *Result {
	return &Result{
		HealthScore:     grade,
		Summary:         summary,
		Risks:           []Risk{},
		FullIngredients: []string{},
		Alternatives:    []string{},
	}
}

// DetailFor returns the description for an ingredient from IngredientsDetail.
func (r *Result) DetailFor(name string) (string, bool) {
	for _, d := range r.IngredientsDetail {
		if d.Name == name && d.Description != "" {
			return d.Description, true
		}
	}
	return "", false
}
