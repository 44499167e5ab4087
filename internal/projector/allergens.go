package projector

import "strings"

// Allergen is a catalog entry. Keywords are lowercase substrings matched
// against ingredient names.
type Allergen struct {
	Name     string
	Keywords []string
}

// Catalog lists the common allergens a user can select.
var Catalog = []Allergen{
	{"Peanuts", []string{"peanut", "groundnut", "arachis", "花生"}},
	{"Tree Nuts (Almonds, Cashews, etc.)", []string{"almond", "cashew", "hazelnut", "walnut", "pecan", "pistachio", "macadamia", "杏仁", "腰果", "榛子", "核桃"}},
	{"Milk/Dairy", []string{"milk", "dairy", "whey", "casein", "lactose", "butter", "cream", "cheese", "牛奶", "乳", "奶"}},
	{"Eggs", []string{"egg", "albumin", "蛋"}},
	{"Soy", []string{"soy", "soya", "lecithin", "大豆", "豆"}},
	{"Wheat/Gluten", []string{"wheat", "gluten", "barley", "rye", "malt", "小麦", "麸质", "面粉"}},
	{"Fish", []string{"fish", "anchovy", "cod", "salmon", "tuna", "鱼"}},
	{"Shellfish", []string{"shellfish", "shrimp", "prawn", "crab", "lobster", "虾", "蟹", "贝"}},
	{"Sesame", []string{"sesame", "tahini", "芝麻"}},
	{"Mustard", []string{"mustard", "芥末"}},
	{"Celery", []string{"celery", "celeriac", "芹菜"}},
	{"Sulfites", []string{"sulfite", "sulphite", "sulfur dioxide", "sulphur dioxide", "metabisulfite", "e220", "e221", "e222", "e223", "e224", "e228", "亚硫酸"}},
}

// AllergenNames returns the catalog names in display order.
func AllergenNames() []string {
	names := make([]string, len(Catalog))
	for i, a := range Catalog {
		names[i] = a.Name
	}
	return names
}

// LookupAllergen finds a catalog entry by exact name.
func LookupAllergen(name string) (Allergen, bool) {
	for _, a := range Catalog {
		if a.Name == name {
			return a, true
		}
	}
	return Allergen{}, false
}

// MatchAllergens returns the selected allergens whose keywords occur in the
// ingredient name. Unknown selections are ignored.
func MatchAllergens(ingredient string, selected []string) []string {
	if len(selected) == 0 {
		return nil
	}
	lower := strings.ToLower(ingredient)
	var hits []string
	for _, name := range selected {
		a, ok := LookupAllergen(name)
		if !ok {
			continue
		}
		for _, kw := range a.Keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, a.Name)
				break
			}
		}
	}
	return hits
}
