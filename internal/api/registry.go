package api

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/gguf"
	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/logger"
)

// LoadRecorder is told about model loads and unloads. metrics.Recorder
// implements it.
type LoadRecorder interface {
	ModelLoaded(backend string, took time.Duration, err error)
	ModelUnloaded()
}

type RegistryConfig struct {
	Backend          engine.Backend
	DefaultModelPath string
	ModelsPath       string
	// Defaults fills the load parameters a request leaves out. Path is
	// ignored.
	Defaults inference.LoadOptions
	Recorder LoadRecorder
	Logger   logger.Logger
}

// Registry owns the handles loaded through the API, keyed by generated id.
type Registry struct {
	cfg RegistryConfig

	mu      sync.Mutex
	entries map[string]*Entry
}

// Entry is one loaded model.
type Entry struct {
	ID       string
	Path     string
	LoadedAt time.Time
	Handle   *inference.Handle
	// Meta is set for GGUF models whose header could be read.
	Meta *gguf.Metadata
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*Entry),
	}
}

func (r *Registry) BackendName() string {
	if r.cfg.Backend == nil {
		return ""
	}
	return r.cfg.Backend.Name()
}

// Load resolves the requested model, loads it and registers the handle.
func (r *Registry) Load(ctx context.Context, req LoadModelRequest) (*Entry, error) {
	if r.cfg.Backend == nil {
		return nil, errors.New("no inference backend configured")
	}
	path, err := r.resolveModelPath(req.Model)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}

	opts := r.cfg.Defaults
	opts.Path = path
	if req.ContextSize != nil {
		opts.ContextSize = *req.ContextSize
	}
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}
	if req.GPULayers != nil {
		opts.GPULayers = *req.GPULayers
	}
	if req.Threads != nil {
		opts.Threads = *req.Threads
	}
	if req.NoMmap {
		opts.NoMmap = true
	}
	if opts.ContextSize < 0 || opts.BatchSize < 0 || opts.GPULayers < 0 || opts.Threads < 0 {
		return nil, newInvalidRequest("load parameters must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = r.cfg.Logger
	}

	var meta *gguf.Metadata
	if gguf.IsPath(path) {
		meta, err = gguf.Read(path)
		if err != nil {
			r.cfg.Logger.Warn("read gguf metadata", "path", path, "error", err)
			meta = nil
		} else if trained := meta.ContextLength(); trained > 0 && uint64(opts.ContextSize) > trained {
			r.cfg.Logger.Warn("context size exceeds trained context", "path", path, "context_size", opts.ContextSize, "trained", trained)
		}
	}

	start := time.Now()
	h, err := inference.Load(ctx, r.cfg.Backend, opts)
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.ModelLoaded(r.cfg.Backend.Name(), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:       "model_" + uuid.NewString(),
		Path:     path,
		LoadedAt: time.Now(),
		Handle:   h,
		Meta:     meta,
	}
	r.mu.Lock()
	r.entries[entry.ID] = entry
	r.mu.Unlock()
	r.cfg.Logger.Info("model registered", "id", entry.ID, "path", path)
	return entry, nil
}

func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns the loaded entries oldest first.
func (r *Registry) List() []*Entry {
	r.mu.Lock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b *Entry) int {
		if c := a.LoadedAt.Compare(b.LoadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Unload removes the entry and releases its handle, waiting for any running
// generation to stop first.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrModelNotFound
	}
	err := e.Handle.Unload()
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.ModelUnloaded()
	}
	r.cfg.Logger.Info("model unregistered", "id", id)
	return err
}

// Close unloads every handle.
func (r *Registry) Close() error {
	var errs []error
	for _, e := range r.List() {
		if err := r.Unload(e.ID); err != nil && !errors.Is(err, ErrModelNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Available lists model names found in the models directory.
func (r *Registry) Available() ([]string, error) {
	var names []string
	if r.cfg.DefaultModelPath != "" {
		names = append(names, ModelName(r.cfg.DefaultModelPath))
	}
	if dir := ModelsDir(r.cfg.ModelsPath); dir != "" {
		paths, err := DiscoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			names = append(names, ModelName(p))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (r *Registry) resolveModelPath(model string) (string, error) {
	if strings.TrimSpace(model) == "" && r.cfg.DefaultModelPath != "" {
		return filepath.Clean(r.cfg.DefaultModelPath), nil
	}
	return ResolveModel(ModelsDir(r.cfg.ModelsPath), model)
}
