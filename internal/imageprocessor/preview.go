package imageprocessor

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PreviewScheme prefixes preview handle URIs. Such URIs are only valid for the
// lifetime of the process and must never be persisted as the only image copy.
const PreviewScheme = "preview:"

// IsTransientURI reports whether uri refers to a session-only preview handle.
func IsTransientURI(uri string) bool {
	return strings.HasPrefix(uri, PreviewScheme) || strings.HasPrefix(uri, "blob:")
}

type previewEntry struct {
	data      []byte
	mediaType string
}

// PreviewRegistry holds raw capture bytes behind short-lived URIs so a front
// end can display the capture while a scan is in flight.
type PreviewRegistry struct {
	mu      sync.Mutex
	entries map[string]previewEntry
}

// NewPreviewRegistry constructs an empty registry.
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{entries: make(map[string]previewEntry)}
}

// Preview is a handle returned by Create. Release is safe to call repeatedly.
type Preview struct {
	uri      string
	registry *PreviewRegistry
	once     sync.Once
}

// Create registers data and returns its handle.
func (r *PreviewRegistry) Create(data []byte, mediaType string) *Preview {
	uri := PreviewScheme + uuid.NewString()
	r.mu.Lock()
	r.entries[uri] = previewEntry{data: data, mediaType: mediaType}
	r.mu.Unlock()
	return &Preview{uri: uri, registry: r}
}

// Open returns the bytes behind a live handle.
func (r *PreviewRegistry) Open(uri string) ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	return e.data, e.mediaType, ok
}

// Len reports the number of live handles.
func (r *PreviewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// URI returns the handle's URI, empty for a nil handle.
func (p *Preview) URI() string {
	if p == nil {
		return ""
	}
	return p.uri
}

// Release frees the bytes behind the handle.
func (p *Preview) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.registry.mu.Lock()
		delete(p.registry.entries, p.uri)
		p.registry.mu.Unlock()
	})
}
