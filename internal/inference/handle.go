package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/cinder/internal/engine"
	"github.com/samcharles93/cinder/internal/logger"
)

const (
	DefaultContextSize = 2048
	DefaultBatchSize   = 512
	maxThreads         = 4
)

// LoadOptions configures Load. Zero values take defaults.
type LoadOptions struct {
	Path        string
	ContextSize int
	BatchSize   int
	GPULayers   int
	// Threads overrides min(4, NumCPU).
	Threads int
	// NoMmap reads the weights into memory instead of mapping them.
	NoMmap bool

	Logger   logger.Logger
	Observer Observer
}

// Handle is one loaded model with its evaluation context. At most one
// generation runs on a handle at a time. After Unload every method is safe
// to call and reports an empty or closed handle.
type Handle struct {
	backend   string
	path      string
	ctxSize   int
	batchSize int
	threads   int
	gpuLayers int

	log      logger.Logger
	observer Observer

	flight flight

	// memBytes is read from the context by whoever owns it: Load, then the
	// generation loop. Queries never touch the context directly.
	memBytes atomic.Uint64

	mu            sync.Mutex
	closed        bool
	model         engine.Model
	ctx           engine.Context
	defaultChain  engine.SamplerChain
	defaultStages []engine.Stage
}

func defaultThreads() int {
	return min(maxThreads, runtime.NumCPU())
}

// Load brings a model into memory and prepares a context and default
// sampler chain. On failure everything built so far is released.
func Load(ctx context.Context, b engine.Backend, opts LoadOptions) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrModelLoadFailed)
	}
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%w: model path is required", ErrModelLoadFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctxSize := opts.ContextSize
	if ctxSize <= 0 {
		ctxSize = DefaultContextSize
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	batch = min(batch, ctxSize)
	threads := opts.Threads
	if threads <= 0 {
		threads = defaultThreads()
	}

	log = log.With("backend", b.Name(), "model", opts.Path)
	model, gpuLayers, err := loadModel(b, opts.Path, opts.GPULayers, !opts.NoMmap, log)
	if err != nil {
		return nil, err
	}

	cleanup := func(err error) (*Handle, error) {
		_ = model.Close()
		return nil, err
	}

	var lctx engine.Context
	ctxErr, err := safeCall("NewContext", func() error {
		var err error
		lctx, err = model.NewContext(engine.ContextParams{ContextSize: ctxSize, BatchSize: batch, Threads: threads})
		return err
	})
	if err == nil {
		err = ctxErr
	}
	if err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrContextInitFailed, err))
	}

	stages := defaultStages(rand.Uint32())
	chain, err := model.NewSamplerChain(stages...)
	if err != nil {
		_ = lctx.Close()
		return cleanup(fmt.Errorf("%w: default chain: %w", ErrSamplerInitFailed, err))
	}

	h := &Handle{
		backend:       b.Name(),
		path:          opts.Path,
		ctxSize:       ctxSize,
		batchSize:     batch,
		threads:       threads,
		gpuLayers:     gpuLayers,
		log:           log,
		observer:      opts.Observer,
		model:         model,
		ctx:           lctx,
		defaultChain:  chain,
		defaultStages: stages,
	}
	h.refreshMemory(lctx)
	log.Info("model loaded",
		"context_size", ctxSize,
		"batch_size", batch,
		"threads", threads,
		"gpu_layers", gpuLayers,
		"size_mb", fmt.Sprintf("%.1f", h.ModelSizeMB()),
	)
	return h, nil
}

// loadModel tries the requested GPU offload first and retries on CPU if
// that fails.
func loadModel(b engine.Backend, path string, gpuLayers int, useMmap bool, log logger.Logger) (engine.Model, int, error) {
	load := func(layers int) (engine.Model, error) {
		var m engine.Model
		loadErr, err := safeCall("LoadModel", func() error {
			var err error
			m, err = b.LoadModel(path, engine.ModelParams{GPULayers: layers, UseMmap: useMmap})
			return err
		})
		if err == nil {
			err = loadErr
		}
		return m, err
	}

	m, err := load(gpuLayers)
	if err == nil {
		return m, gpuLayers, nil
	}
	if gpuLayers <= 0 {
		return nil, 0, fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}
	log.Warn("gpu model load failed, retrying on cpu", "gpu_layers", gpuLayers, "error", err)
	m, cpuErr := load(0)
	if cpuErr != nil {
		return nil, 0, fmt.Errorf("%w: gpu: %w; cpu: %w", ErrModelLoadFailed, err, cpuErr)
	}
	return m, 0, nil
}

// Unload cancels any running generation, waits for it to return and then
// releases the sampler, context and model. Calling it again is a no-op.
// It must not be called from inside a Sink callback of the same handle.
func (h *Handle) Unload() error {
	if h == nil {
		return nil
	}
	done, first := h.flight.shutdown()
	if !first {
		return nil
	}
	if done != nil {
		h.log.Info("unload waiting for generation to stop", "state", h.flight.current())
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	var errs []error
	if h.defaultChain != nil {
		errs = append(errs, h.defaultChain.Close())
		h.defaultChain = nil
	}
	if h.ctx != nil {
		errs = append(errs, h.ctx.Close())
		h.ctx = nil
	}
	if h.model != nil {
		errs = append(errs, h.model.Close())
		h.model = nil
	}
	h.log.Info("model unloaded")
	return errors.Join(errs...)
}

// Close implements io.Closer.
func (h *Handle) Close() error { return h.Unload() }

// Stop asks the running generation to end after its current token. It
// reports whether a generation was running.
func (h *Handle) Stop() bool {
	if h == nil {
		return false
	}
	return h.flight.stop()
}

// MemoryUsage returns the engine's reported context memory in bytes, as
// of the last completed prompt evaluation or generation.
func (h *Handle) MemoryUsage() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.ctx == nil {
		return 0
	}
	return h.memBytes.Load()
}

func (h *Handle) refreshMemory(lctx engine.Context) {
	v, err := safeCall("MemoryBytes", lctx.MemoryBytes)
	if err != nil {
		h.log.Warn("memory query failed", "error", err)
		return
	}
	h.memBytes.Store(v)
}

func (h *Handle) ModelSizeMB() float64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.model == nil {
		return 0
	}
	v, err := safeCall("SizeBytes", h.model.SizeBytes)
	if err != nil {
		return 0
	}
	return float64(v) / (1024 * 1024)
}

func (h *Handle) ContextSize() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	return h.ctxSize
}

// Info is a snapshot of a handle for display.
type Info struct {
	Backend     string
	Path        string
	ContextSize int
	BatchSize   int
	Threads     int
	GPULayers   int
	ModelSizeMB float64
	MemoryBytes uint64
	State       State
	Loaded      bool
	Counters    FlightCounters
}

func (h *Handle) Info() Info {
	if h == nil {
		return Info{}
	}
	h.mu.Lock()
	loaded := !h.closed
	h.mu.Unlock()
	return Info{
		Backend:     h.backend,
		Path:        h.path,
		ContextSize: h.ContextSize(),
		BatchSize:   h.batchSize,
		Threads:     h.threads,
		GPULayers:   h.gpuLayers,
		ModelSizeMB: h.ModelSizeMB(),
		MemoryBytes: h.MemoryUsage(),
		State:       h.flight.current(),
		Loaded:      loaded,
		Counters:    h.flight.counters(),
	}
}
