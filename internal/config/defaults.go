package config

import "time"

// Defaults for settings where 0 is a meaningful value.
const (
	DefaultChunkOverlap     = 200
	DefaultTemperature      = 0.5
	DefaultMaxSchemaRetries = 2
)

// DefaultFallbackAnswer is returned when the language model cannot produce any answer.
const DefaultFallbackAnswer = "I could not find a suitable answer right now. Please try again later."

// DefaultSystemPrompt instructs the model how to route between the tools.
const DefaultSystemPrompt = `You are a helpful assistant for company employees.
Use the retrieve_company_documents tool for questions about internal documents, policies or rules.
Use the web_search tool for current events or general knowledge that internal documents do not cover.
Answer directly when no tool is needed. Cite document sources when you use them.`

// ApplyDefaults sets default values for any zero values in cfg. Pointer fields are
// only filled when nil, so an explicit 0 in the file survives.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "./vectorstore"
	}
	if cfg.Storage.KeepGenerations == 0 {
		cfg.Storage.KeepGenerations = 2
	}
	if cfg.Documents.Directories == nil {
		cfg.Documents.Directories = []string{"./data"}
	}
	if cfg.Documents.Extensions == nil {
		cfg.Documents.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods", ".odt", ".rtf"}
	}
	// Recursive defaults to true when unset (nil).
	if cfg.Documents.Recursive == nil {
		t := true
		cfg.Documents.Recursive = &t
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1200
	}
	if cfg.Chunking.Overlap == nil {
		v := DefaultChunkOverlap
		cfg.Chunking.Overlap = &v
	}
	if cfg.Chunking.Policy == "" {
		cfg.Chunking.Policy = "paragraph"
	}
	applyEmbeddingDefaults(&cfg.Embedding)
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = "semantic"
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "googleai"
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.Model = "gpt-4o-mini"
		case "ollama":
			cfg.Generation.Model = "llama3.1"
		default:
			cfg.Generation.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Generation.Temperature == nil {
		v := DefaultTemperature
		cfg.Generation.Temperature = &v
	}
	if cfg.Generation.APIKeyEnv == "" {
		switch cfg.Generation.Provider {
		case "openai":
			cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
		case "googleai":
			cfg.Generation.APIKeyEnv = "GOOGLE_API_KEY"
		}
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.WebSearch.Provider == "" {
		cfg.WebSearch.Provider = "tavily"
	}
	if cfg.WebSearch.BaseURL == "" {
		cfg.WebSearch.BaseURL = "https://api.tavily.com"
	}
	if cfg.WebSearch.APIKeyEnv == "" {
		cfg.WebSearch.APIKeyEnv = "TAVILY_API_KEY"
	}
	if cfg.WebSearch.MaxResults == 0 {
		cfg.WebSearch.MaxResults = 2
	}
	if cfg.WebSearch.Topic == "" {
		cfg.WebSearch.Topic = "general"
	}
	if cfg.WebSearch.Timeout == 0 {
		cfg.WebSearch.Timeout = 15 * time.Second
	}
	if cfg.Agent.MaxToolIterations == 0 {
		cfg.Agent.MaxToolIterations = 3
	}
	if cfg.Agent.MaxSchemaRetries == nil {
		v := DefaultMaxSchemaRetries
		cfg.Agent.MaxSchemaRetries = &v
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 20 * time.Second
	}
	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.FallbackAnswer == "" {
		cfg.Agent.FallbackAnswer = DefaultFallbackAnswer
	}
	if cfg.Conversation.MaxMessages == 0 {
		cfg.Conversation.MaxMessages = 50
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "hashing"
	}
	if e.Model == "" {
		switch e.Provider {
		case "openai":
			e.Model = "text-embedding-3-small"
		case "ollama":
			e.Model = "nomic-embed-text"
		case "googleai":
			e.Model = "text-embedding-004"
		case "onnx":
			e.Model = "all-MiniLM-L6-v2"
		default:
			e.Model = "hashing-v1"
		}
	}
	if e.Dimensions == 0 {
		switch e.Provider {
		case "openai":
			e.Dimensions = 1536
		case "ollama":
			e.Dimensions = 768
		case "googleai":
			e.Dimensions = 768
		default:
			e.Dimensions = 384
		}
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.APIKeyEnv == "" {
		switch e.Provider {
		case "openai":
			e.APIKeyEnv = "OPENAI_API_KEY"
		case "googleai":
			e.APIKeyEnv = "GOOGLE_API_KEY"
		}
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.Concurrency == 0 {
		e.Concurrency = 2
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 3
	}
	if e.RetryBackoff == 0 {
		e.RetryBackoff = 500 * time.Millisecond
	}
	if e.CacheSize == 0 {
		e.CacheSize = 1024
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
}
