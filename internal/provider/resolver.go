package provider

import "strings"

// knownAPIBases maps a provider name to its OpenAI-compatible chat
// completions base URL. Anthropic and other non-OpenAI-shaped APIs are
// expected to be reached through an OpenAI-compatible gateway (e.g.
// OpenRouter), matching this module's single-client design.
var knownAPIBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// Resolve builds the LLMProvider for a configured provider name, api
// base override, api key, and default model. An explicit apiBase always
// wins; otherwise the provider name is looked up in knownAPIBases.
func Resolve(name, apiBase, apiKey, defaultModel string) LLMProvider {
	if apiBase == "" {
		apiBase = knownAPIBases[strings.ToLower(strings.TrimSpace(name))]
	}
	return NewOpenAIProvider(apiKey, apiBase, defaultModel)
}
