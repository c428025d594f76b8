// Package provider selects and constructs the LLM chat backend used for
// classifying VOC rows. Supported backends: Ollama, OpenAI, Azure OpenAI,
// AWS Bedrock, Google Gemini. The default is a locally running Ollama
// instance so the pipeline works with no cloud credentials at all.
package provider

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Factory is the interface for constructing a ChatModel from a Config.
// Implementations must be safe to call from multiple goroutines.
type Factory interface {
	// New constructs and returns a ready-to-use ChatModel for the given config.
	New(ctx context.Context, cfg *Config) (model.ToolCallingChatModel, error)
}
