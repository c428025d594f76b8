package provider

import (
	"fmt"
	"strings"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted; the others may be left zero.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Ollama configures the local Ollama backend.
	Ollama ProviderOllama
	// OpenAI configures the OpenAI API backend.
	OpenAI ProviderOpenAI
	// AzureOpenAI configures the Azure OpenAI Service backend.
	AzureOpenAI ProviderAzureOpenAI
	// Bedrock configures the AWS Bedrock backend.
	Bedrock ProviderBedrock
	// Gemini configures the Google Gemini backend.
	Gemini ProviderGemini

	// Tuning holds generation parameters shared across all backends.
	Tuning SharedTuning
}

// ProviderOllama holds connection settings for a local Ollama instance.
type ProviderOllama struct {
	// Host is the Ollama base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the Ollama model name (e.g. "llama3").
	Model string
}

// ProviderOpenAI holds credentials for the OpenAI API.
type ProviderOpenAI struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string
	// Model is the model name (e.g. "gpt-4o").
	Model string
}

// ProviderAzureOpenAI holds credentials for Azure OpenAI Service.
type ProviderAzureOpenAI struct {
	// APIKey authenticates against the Azure OpenAI endpoint.
	APIKey string
	// Endpoint is the resource endpoint (e.g. "https://my.openai.azure.com").
	Endpoint string
	// Deployment is the deployment name, which doubles as the model selector.
	Deployment string
	// APIVersion is the REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderBedrock holds settings for AWS Bedrock. Credentials are resolved
// via the standard AWS SDK chain and are not carried here.
type ProviderBedrock struct {
	// AWSRegion is the region hosting the Bedrock endpoint.
	AWSRegion string
	// ModelID is the Bedrock model identifier (e.g. "anthropic.claude-3").
	ModelID string
}

// ProviderGemini holds credentials for Google Gemini via AI Studio.
type ProviderGemini struct {
	// APIKey is the AI Studio API key.
	APIKey string
	// Model is the Gemini model name (e.g. "gemini-1.5-pro").
	Model string
}

// SharedTuning holds generation parameters applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate checks that the section for the selected backend carries every
// required field. Error messages name the environment variable that would
// populate the missing field so startup failures are actionable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: AWS_REGION is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, bedrock, gemini)", c.Backend)
	}
	return nil
}

// azureReasoningPrefixes identifies o-series and codex-class deployments,
// which reject the temperature parameter and use a different token cap field.
var azureReasoningPrefixes = []string{"o1", "o3", "o4", "codex"}

// isAzureReasoningModel reports whether the Azure deployment name refers to a
// reasoning-class model. Matching is by prefix, case-insensitive.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range azureReasoningPrefixes {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
