package noderpc

// SamplingParams is the full LLM sampling parameter set a chat_message
// frame carries through to the node's chat/stream RPC, per spec.md §4.5
// step 2.
type SamplingParams struct {
	Temperature      float64  `json:"temperature"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	MinP             float64  `json:"min_p"`
	TypicalP         float64  `json:"typical_p"`
	XTCThreshold     float64  `json:"xtc_threshold"`
	XTCProbability   float64  `json:"xtc_probability"`
	DRYMultiplier    float64  `json:"dry_multiplier"`
	DRYBase          float64  `json:"dry_base"`
	RepeatPenalty    float64  `json:"repeat_penalty"`
	SamplerOrder     []string `json:"sampler_order"`
	Seed             int64    `json:"seed"`
	MaxTokens        int      `json:"max_tokens"`
}

// LoadModelRequest is POSTed to {node}/v1/models/load.
type LoadModelRequest struct {
	ModelID       string `json:"model_id,omitempty"`
	HFRepo        string `json:"hf_repo,omitempty"`
	ContextLength int64  `json:"context_length"`
}

// ChatStreamRequest is POSTed to {node}/v1/chat/stream.
type ChatStreamRequest struct {
	Prompt         string         `json:"prompt"`
	SamplingParams SamplingParams `json:"sampling_params"`
}

// ChatToken is one NDJSON line of a chat/stream response.
type ChatToken struct {
	Token   string `json:"token"`
	IsFinal bool   `json:"is_final"`
}

// CallbackEvent is the payload a node POSTs to the coordinator's
// /internal/node_callback/{session_id} webhook while loading a model.
type CallbackEvent struct {
	Event   string `json:"event"` // "downloading" | "loading" | "ready" | "load_failed"
	Message string `json:"message,omitempty"`
}

const (
	EventDownloading = "downloading"
	EventLoading     = "loading"
	EventReady       = "ready"
	EventLoadFailed  = "load_failed"
)
