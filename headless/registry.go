// Package headless is a rendering backend without a display. It fetches and
// decodes the headers of every image in a stack and keeps per-viewport
// camera and render bookkeeping, which is enough to drive the viewer from a
// terminal or from tests.
package headless

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// LoaderRegistry routes image references to the loader registered for their
// scheme.
//
// Example usage:
//
//	registry := headless.NewLoaderRegistry()
//	registry.RegisterLoader(imageref.SchemeWADOURI, headless.NewHTTPLoader(nil))
//
//	data, err := registry.Load(ctx, "wadouri:http://localhost:8000/api/v1/dicomweb/...")
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders map[string]interfaces.ImageLoader
}

// NewLoaderRegistry creates an empty registry.
func NewLoaderRegistry() *LoaderRegistry {
	return &LoaderRegistry{
		loaders: make(map[string]interfaces.ImageLoader),
	}
}

// RegisterLoader registers a loader for a scheme. Registering the same
// scheme again replaces the previous loader.
func (r *LoaderRegistry) RegisterLoader(scheme string, loader interfaces.ImageLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[scheme] = loader
}

// UnregisterLoader removes the loader for a scheme.
func (r *LoaderRegistry) UnregisterLoader(scheme string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaders, scheme)
}

// HasLoader returns true if a loader is registered for the scheme.
func (r *LoaderRegistry) HasLoader(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[scheme]
	return ok
}

// RegisteredSchemes returns the registered schemes, sorted.
func (r *LoaderRegistry) RegisteredSchemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.loaders))
	for s := range r.loaders {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Load fetches the bytes behind an image reference.
func (r *LoaderRegistry) Load(ctx context.Context, ref string) ([]byte, error) {
	scheme, url, err := imageref.Parse(ref)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	loader, ok := r.loaders[scheme]
	r.mu.RUnlock()
	if !ok {
		slog.WarnContext(ctx, "No loader registered for image scheme", "scheme", scheme)
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, scheme)
	}

	slog.DebugContext(ctx, "Loading image", "scheme", scheme, "url", url)
	return loader.Load(ctx, url)
}
