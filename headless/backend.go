package headless

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/caio-sobreiro/dicomview/dicom"
	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// averageImageBytes sizes the cache admission counters
const averageImageBytes = 512 * 1024

// Image is a decoded stack entry
type Image struct {
	Ref    string
	Header *dicom.Header
	// Bytes is the encoded size, used as the cache cost
	Bytes int64
}

// Option configures a Backend instance.
type Option func(*Backend)

// WithLogger overrides the logger used by the backend and its handles.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Backend implements interfaces.RenderingBackend
type Backend struct {
	registry *LoaderRegistry
	logger   *slog.Logger

	mu      sync.RWMutex
	core    bool
	workers int
	schemes []string
	tools   []string
	cache   *ristretto.Cache[string, *Image]
	engine  *Engine
}

// NewBackend creates a backend loading images through registry.
func NewBackend(registry *LoaderRegistry, opts ...Option) *Backend {
	b := &Backend{registry: registry}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func (b *Backend) InitCore(ctx context.Context) error {
	if b.registry == nil {
		return fmt.Errorf("no loader registry")
	}
	b.mu.Lock()
	b.core = true
	b.mu.Unlock()
	b.logger.DebugContext(ctx, "Headless core initialized")
	return nil
}

func (b *Backend) InitDecoders(ctx context.Context, workers int) error {
	if workers < 1 {
		return fmt.Errorf("decode workers must be positive, got %d", workers)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.core {
		return errors.ErrNotInitialized
	}
	b.workers = workers
	return nil
}

func (b *Backend) RegisterScheme(ctx context.Context, scheme string) error {
	if !b.registry.HasLoader(scheme) {
		return fmt.Errorf("%w: %s", errors.ErrUnsupportedScheme, scheme)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.schemes, scheme) {
		b.schemes = append(b.schemes, scheme)
	}
	return nil
}

func (b *Backend) InitTools(ctx context.Context, tools []string) error {
	if len(tools) == 0 {
		return fmt.Errorf("no tools to register")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools = slices.Clone(tools)
	return nil
}

func (b *Backend) SetCacheCapacity(bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", bytes)
	}

	counters := bytes / averageImageBytes * 10
	if counters < 1000 {
		counters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Image]{
		NumCounters: counters,
		MaxCost:     bytes,
		BufferItems: 64,
	})
	if err != nil {
		return fmt.Errorf("create image cache: %w", err)
	}

	b.mu.Lock()
	old := b.cache
	b.cache = cache
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (b *Backend) NewRenderingEngine(id string) (interfaces.RenderingEngine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.core || b.cache == nil || b.workers == 0 {
		return nil, errors.ErrNotInitialized
	}
	b.engine = newEngine(id, b)
	return b.engine, nil
}

// Engine returns the engine created since the last reset, for inspection.
func (b *Backend) Engine() *Engine {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.engine
}

func (b *Backend) NewToolGroup(id string) (interfaces.ToolGroup, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.tools) == 0 {
		return nil, errors.ErrNotInitialized
	}
	return newToolGroup(id, b.tools, b.logger), nil
}

// Reset drops every sub-initialization and closes the cache.
func (b *Backend) Reset() {
	b.mu.Lock()
	cache := b.cache
	b.core = false
	b.workers = 0
	b.schemes = nil
	b.tools = nil
	b.cache = nil
	b.engine = nil
	b.mu.Unlock()

	if cache != nil {
		cache.Close()
	}
	b.logger.Debug("Headless backend reset")
}

func (b *Backend) decodeWorkers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.workers
}

// load returns the decoded image for ref, consulting the cache first.
func (b *Backend) load(ctx context.Context, ref string) (*Image, error) {
	b.mu.RLock()
	cache := b.cache
	b.mu.RUnlock()

	if cache != nil {
		if img, ok := cache.Get(ref); ok {
			return img, nil
		}
	}

	data, err := b.registry.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	header, err := dicom.ReadHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}

	img := &Image{Ref: ref, Header: header, Bytes: int64(len(data))}
	if cache != nil && cache.Set(ref, img, img.Bytes) {
		cache.Wait()
	}
	return img, nil
}
