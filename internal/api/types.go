package api

type LoadModelRequest struct {
	// Model is a file path or a name resolved inside the models directory.
	// Empty selects the server's default model.
	Model       string `json:"model,omitempty"`
	ContextSize *int   `json:"context_size,omitempty"`
	BatchSize   *int   `json:"batch_size,omitempty"`
	GPULayers   *int   `json:"gpu_layers,omitempty"`
	Threads     *int   `json:"threads,omitempty"`
	NoMmap      bool   `json:"no_mmap,omitempty"`
}

type ModelObject struct {
	ID          string        `json:"id"`
	Object      string        `json:"object"`
	Path        string        `json:"path"`
	Backend     string        `json:"backend"`
	CreatedAt   int64         `json:"created_at"`
	ContextSize int           `json:"context_size"`
	BatchSize   int           `json:"batch_size"`
	Threads     int           `json:"threads"`
	GPULayers   int           `json:"gpu_layers"`
	SizeMB      float64       `json:"size_mb"`
	MemoryBytes uint64        `json:"memory_bytes"`
	State       string        `json:"state"`
	Generations GenerationUse `json:"generations"`
	Metadata    *ModelMeta    `json:"metadata,omitempty"`
}

// ModelMeta is read from the header of GGUF files.
type ModelMeta struct {
	Architecture   string `json:"architecture,omitempty"`
	Name           string `json:"name,omitempty"`
	Quantization   string `json:"quantization,omitempty"`
	TrainedContext uint64 `json:"trained_context,omitempty"`
	VocabSize      uint64 `json:"vocab_size,omitempty"`
	TensorCount    uint64 `json:"tensor_count"`
}

type GenerationUse struct {
	Admitted  uint64 `json:"admitted"`
	Rejected  uint64 `json:"rejected"`
	Cancelled uint64 `json:"cancelled"`
}

type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

type AvailableModels struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}

type DeleteModelResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type StopResponse struct {
	ID      string `json:"id"`
	Stopped bool   `json:"stopped"`
}

type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	// Structured is "auto", "on" or "off".
	Structured *string `json:"structured,omitempty"`
	Seed       *int64  `json:"seed,omitempty"`
	Stream     *bool   `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID           string  `json:"id"`
	Object       string  `json:"object"`
	Model        string  `json:"model"`
	CreatedAt    int64   `json:"created_at"`
	Text         string  `json:"text"`
	FinishReason string  `json:"finish_reason"`
	Structured   bool    `json:"structured"`
	Usage        Usage   `json:"usage"`
	Timings      Timings `json:"timings"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Timings struct {
	TimeToFirstTokenMS float64 `json:"time_to_first_token_ms"`
	PromptEvalMS       float64 `json:"prompt_eval_ms"`
	TotalMS            float64 `json:"total_ms"`
	TokensPerSecond    float64 `json:"tokens_per_second"`
}

type ErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	Models  int    `json:"models"`
}
