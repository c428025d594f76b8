package provider

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := map[string]Config{
		"ollama": {
			Backend: BackendOllama,
			Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "qwen2.5:14b"},
		},
		"openai": {
			Backend: BackendOpenAI,
			OpenAI:  ProviderOpenAI{APIKey: "sk-voc", Model: "gpt-4o-mini"},
		},
		"azure": {
			Backend: BackendAzure,
			AzureOpenAI: ProviderAzureOpenAI{
				APIKey:     "key",
				Endpoint:   "https://voc.openai.azure.com",
				Deployment: "gpt-4o",
				APIVersion: "2024-02-01",
			},
		},
		"bedrock": {
			Backend: BackendBedrock,
			Bedrock: ProviderBedrock{AWSRegion: "eu-west-1", ModelID: "anthropic.claude-3-haiku"},
		},
		"gemini": {
			Backend: BackendGemini,
			Gemini:  ProviderGemini{APIKey: "AIza-voc", Model: "gemini-1.5-flash"},
		},
	}
	for name, cfg := range valid {
		t.Run(name+"/valid", func(t *testing.T) {
			t.Parallel()
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}

	// Each case blanks one required field of an otherwise valid config and
	// expects the env var name in the error.
	missing := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ollama/model", func(c *Config) { c.Ollama.Model = "" }, "OLLAMA_MODEL"},
		{"openai/api key", func(c *Config) { c.OpenAI.APIKey = "" }, "OPENAI_API_KEY"},
		{"openai/model", func(c *Config) { c.OpenAI.Model = "" }, "OPENAI_MODEL"},
		{"azure/api key", func(c *Config) { c.AzureOpenAI.APIKey = "" }, "AZURE_OPENAI_API_KEY"},
		{"azure/endpoint", func(c *Config) { c.AzureOpenAI.Endpoint = "" }, "AZURE_OPENAI_ENDPOINT"},
		{"azure/deployment", func(c *Config) { c.AzureOpenAI.Deployment = "" }, "AZURE_OPENAI_DEPLOYMENT"},
		{"bedrock/model id", func(c *Config) { c.Bedrock.ModelID = "" }, "BEDROCK_MODEL_ID"},
		{"bedrock/region", func(c *Config) { c.Bedrock.AWSRegion = "" }, "AWS_REGION"},
		{"gemini/api key", func(c *Config) { c.Gemini.APIKey = "" }, "GOOGLE_API_KEY"},
		{"gemini/model", func(c *Config) { c.Gemini.Model = "" }, "GEMINI_MODEL"},
	}
	for _, tc := range missing {
		t.Run("missing/"+tc.name, func(t *testing.T) {
			t.Parallel()
			backend := tc.name[:strings.IndexByte(tc.name, '/')]
			cfg := valid[backend]
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Backend: "mystery"}
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "unknown backend") {
			t.Errorf("Validate() error = %v, want unknown backend", err)
		}
	})
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deployment string
		want       bool
	}{
		{"o1", true},
		{"o1-mini", true},
		{"o3", true},
		{"o3-mini", true},
		{"o4-mini", true},
		{"O3-Mini", true}, // matching is case-insensitive
		{"codex-mini", true},
		{"codex", true},
		{"gpt-5.2-codex", false}, // prefix rule: "codex" mid-name does not match
		{"gpt-4o", false},
		{"gpt-4o-mini", false},
		{"gpt-35-turbo", false},
		{"voc-classifier", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.deployment, func(t *testing.T) {
			t.Parallel()
			if got := isAzureReasoningModel(tc.deployment); got != tc.want {
				t.Errorf("isAzureReasoningModel(%q) = %v, want %v", tc.deployment, got, tc.want)
			}
		})
	}
}
