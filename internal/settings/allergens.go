// Package settings persists user preferences next to the scan history.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/logging"
	"github.com/example/ingrediscan/internal/projector"
	"github.com/example/ingrediscan/internal/storage"
)

// AllergenKey is the storage key for the allergen profile.
const AllergenKey = "allergenProfile"

// UnknownAllergenError rejects a selection outside the catalog.
type UnknownAllergenError struct {
	Name string
}

func (e *UnknownAllergenError) Error() string {
	return fmt.Sprintf("unknown allergen %q", e.Name)
}

// AllergenProfile is the user's selected allergens in catalog order.
type AllergenProfile struct {
	mu       sync.Mutex
	backend  storage.Storage
	selected []string
	logger   *zap.Logger
}

// NewAllergenProfile constructs an empty profile; call Load to populate it.
func NewAllergenProfile(backend storage.Storage, logger *zap.Logger) *AllergenProfile {
	return &AllergenProfile{
		backend:  backend,
		selected: []string{},
		logger:   logger.Named("settings"),
	}
}

// Load reads the persisted selection. Unparseable or unknown entries are dropped.
func (p *AllergenProfile) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.selected = []string{}
	raw, err := p.backend.Get(ctx, AllergenKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return logging.NewOperationError("settings.load_allergens", "", err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		p.logger.Warn("allergen profile is corrupt, ignoring", zap.Error(err))
		return nil
	}
	p.selected = canonical(names)
	return nil
}

// Selected returns a copy of the current selection.
func (p *AllergenProfile) Selected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.selected...)
}

// Set replaces the selection. Every name must be in the catalog. The
// in-memory selection changes only after the write succeeds.
func (p *AllergenProfile) Set(ctx context.Context, names []string) error {
	for _, n := range names {
		if _, ok := projector.LookupAllergen(n); !ok {
			return &UnknownAllergenError{Name: n}
		}
	}
	return p.write(ctx, canonical(names))
}

// Toggle adds name when absent and removes it when present.
func (p *AllergenProfile) Toggle(ctx context.Context, name string) error {
	if _, ok := projector.LookupAllergen(name); !ok {
		return &UnknownAllergenError{Name: name}
	}
	current := p.Selected()
	next := make([]string, 0, len(current)+1)
	found := false
	for _, n := range current {
		if n == name {
			found = true
			continue
		}
		next = append(next, n)
	}
	if !found {
		next = append(next, name)
	}
	return p.write(ctx, canonical(next))
}

func (p *AllergenProfile) write(ctx context.Context, names []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("serialize allergen profile: %w", err)
	}
	if err := p.backend.Set(ctx, AllergenKey, data); err != nil {
		return logging.NewOperationError("settings.save_allergens", "", err)
	}
	p.selected = names
	return nil
}

// canonical dedups names and orders them like the catalog.
func canonical(names []string) []string {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	out := []string{}
	for _, a := range projector.Catalog {
		if _, ok := want[a.Name]; ok {
			out = append(out, a.Name)
		}
	}
	return out
}
