package llm

// Provider names known to the router.
const (
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
	ProviderOllama     = "ollama"
	ProviderCustom     = "custom"
)

// providerModels lists the selectable models per provider, default first.
var providerModels = map[string][]string{
	ProviderOpenAI:     {"gpt-4o", "gpt-4o-mini", "o3-mini"},
	ProviderGoogle:     {"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"},
	ProviderAnthropic:  {"claude-sonnet-4-20250514", "claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"},
	ProviderOpenRouter: {"anthropic/claude-3.5-sonnet", "meta-llama/llama-3.1-70b-instruct"},
	ProviderDeepSeek:   {"deepseek-chat", "deepseek-reasoner"},
	ProviderOllama:     {"llama3.1", "qwen2.5"},
	ProviderCustom:     {},
}

// defaultEndpoints are the API base URLs of HTTP providers.
var defaultEndpoints = map[string]string{
	ProviderAnthropic:  "https://api.anthropic.com/v1",
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderOllama:     "http://localhost:11434/v1",
}

// Providers lists the catalogue in display order.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderGoogle, ProviderAnthropic, ProviderOpenRouter, ProviderDeepSeek, ProviderOllama, ProviderCustom}
}

// Models returns the catalogue entry for a provider.
func Models(provider string) []string {
	return append([]string(nil), providerModels[provider]...)
}

// DefaultModel returns the first catalogue model of a provider, or "".
func DefaultModel(provider string) string {
	if m := providerModels[provider]; len(m) > 0 {
		return m[0]
	}
	return ""
}

// KnownProvider reports whether the catalogue lists the provider.
func KnownProvider(provider string) bool {
	_, ok := providerModels[provider]
	return ok
}
