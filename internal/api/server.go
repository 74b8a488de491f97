// Package api serves loaded models over HTTP: load and unload handles,
// inspect them, and run generations as JSON or server-sent events.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/cinder/internal/inference"
	"github.com/samcharles93/cinder/internal/version"
)

type Server struct {
	registry *Registry
	metrics  http.Handler
	clock    func() time.Time
}

// NewServer wires the registry. metrics may be nil, in which case /metrics
// is not registered.
func NewServer(registry *Registry, metrics http.Handler) *Server {
	return &Server{
		registry: registry,
		metrics:  metrics,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	e.POST("/v1/models", s.handleLoadModel)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/available", s.handleAvailableModels)
	e.GET("/v1/models/:id", s.handleGetModel)
	e.DELETE("/v1/models/:id", s.handleUnloadModel)
	e.POST("/v1/models/:id/generate", s.handleGenerate)
	e.POST("/v1/models/:id/stop", s.handleStop)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
		Backend: s.registry.BackendName(),
		Models:  s.registry.Len(),
	})
}

func (s *Server) handleLoadModel(c *echo.Context) error {
	req, err := decodeJSON[LoadModelRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	entry, err := s.registry.Load(c.Request().Context(), req)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusCreated, modelObject(s.registry.BackendName(), entry))
}

func (s *Server) handleListModels(c *echo.Context) error {
	entries := s.registry.List()
	data := make([]ModelObject, 0, len(entries))
	for _, e := range entries {
		data = append(data, modelObject(s.registry.BackendName(), e))
	}
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: data})
}

func (s *Server) handleAvailableModels(c *echo.Context) error {
	names, err := s.registry.Available()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, AvailableModels{Object: "list", Data: names})
}

func (s *Server) handleGetModel(c *echo.Context) error {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "model not found")
	}
	return c.JSON(http.StatusOK, modelObject(s.registry.BackendName(), entry))
}

func (s *Server) handleUnloadModel(c *echo.Context) error {
	id := c.Param("id")
	if err := s.registry.Unload(id); err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, DeleteModelResponse{ID: id, Object: "model", Deleted: true})
}

func (s *Server) handleStop(c *echo.Context) error {
	id := c.Param("id")
	entry, ok := s.registry.Get(id)
	if !ok {
		return writeNotFound(c, "model not found")
	}
	return c.JSON(http.StatusOK, StopResponse{ID: id, Stopped: entry.Handle.Stop()})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "model not found")
	}
	body, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := inference.ResolveRequest(inference.RequestOptions{
		Prompt:      body.Prompt,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		TopP:        body.TopP,
		Structured:  body.Structured,
		Seed:        body.Seed,
	})
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := "gen_" + uuid.NewString()
	created := s.clock().Unix()
	ctx := c.Request().Context()

	if body.Stream != nil && *body.Stream {
		w, err := NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		res, err := entry.Handle.Generate(ctx, req, w)
		if err != nil {
			if w.Started() {
				_, obj := classify(err)
				_ = w.Fail(obj)
				return nil
			}
			return writeFailure(c, err)
		}
		_ = w.Complete(generateResponse(id, entry.ID, created, res))
		return nil
	}

	res, err := entry.Handle.Generate(ctx, req, nil)
	if err != nil {
		return writeFailure(c, err)
	}
	return c.JSON(http.StatusOK, generateResponse(id, entry.ID, created, res))
}

func modelObject(backend string, e *Entry) ModelObject {
	info := e.Handle.Info()
	obj := ModelObject{
		ID:          e.ID,
		Object:      "model",
		Path:        e.Path,
		Backend:     backend,
		CreatedAt:   e.LoadedAt.Unix(),
		ContextSize: info.ContextSize,
		BatchSize:   info.BatchSize,
		Threads:     info.Threads,
		GPULayers:   info.GPULayers,
		SizeMB:      info.ModelSizeMB,
		MemoryBytes: info.MemoryBytes,
		State:       info.State.String(),
		Generations: GenerationUse{
			Admitted:  info.Counters.Admitted,
			Rejected:  info.Counters.Rejected,
			Cancelled: info.Counters.Cancelled,
		},
	}
	if m := e.Meta; m != nil {
		obj.Metadata = &ModelMeta{
			Architecture:   m.Architecture(),
			Name:           m.Name(),
			Quantization:   m.FileType(),
			TrainedContext: m.ContextLength(),
			VocabSize:      m.VocabSize(),
			TensorCount:    m.TensorCount,
		}
	}
	return obj
}

func generateResponse(id, model string, created int64, res *inference.Result) GenerateResponse {
	st := res.Stats
	return GenerateResponse{
		ID:           id,
		Object:       "generation",
		Model:        model,
		CreatedAt:    created,
		Text:         res.Text,
		FinishReason: string(res.FinishReason),
		Structured:   res.Structured,
		Usage: Usage{
			PromptTokens:     st.PromptTokens,
			CompletionTokens: st.GeneratedTokens,
			TotalTokens:      st.PromptTokens + st.GeneratedTokens,
		},
		Timings: Timings{
			TimeToFirstTokenMS: ms(st.TimeToFirstToken),
			PromptEvalMS:       ms(st.PromptEval),
			TotalMS:            ms(st.Duration),
			TokensPerSecond:    st.TPS,
		},
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
