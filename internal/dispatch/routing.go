package dispatch

import "strings"

// endpointKind names each recognized inbound route (§4.11 endpoint table);
// the route's handler supplies the matching inbound dialect.
type endpointKind string

const (
	endpointOpenAIChat      endpointKind = "openai_chat"
	endpointOpenAIResponses endpointKind = "openai_responses"
	endpointClaudeMessage   endpointKind = "claude_message"
	endpointGeminiContent   endpointKind = "gemini_content"
	endpointOpenAIModelList endpointKind = "openai_model_list"
	endpointGeminiModelList endpointKind = "gemini_model_list"
)

var claudeSubstrings = []string{"claude", "sonnet", "opus", "haiku"}
var geminiSubstrings = []string{"gemini"}
var qwenSubstrings = []string{"qwen"}
var openAISubstrings = []string{"gpt-", "gpt4", "o1", "o3", "o4", "chatgpt"}

// selectProvider implements §4.11 step 3: brand prefix first, then the
// Warp catalog, then dialect-family substrings, finally the default.
func (d *Dispatcher) selectProvider(brand, cleanModel string) string {
	if brand != "" {
		if providerType, ok := d.brandToProvider(brand); ok {
			return providerType
		}
	}

	lower := strings.ToLower(cleanModel)

	if d.warpCatalog != nil {
		for _, m := range d.warpCatalog() {
			if strings.EqualFold(m, cleanModel) {
				return "warp"
			}
		}
	}
	if containsAny(lower, claudeSubstrings) {
		return d.firstConfigured("claude")
	}
	if containsAny(lower, geminiSubstrings) {
		return d.firstConfigured("gemini")
	}
	if containsAny(lower, qwenSubstrings) {
		return d.firstConfigured("qwen")
	}
	if containsAny(lower, openAISubstrings) {
		return d.firstConfigured("openai")
	}
	return d.defaultProvider
}

// brandToProvider resolves an explicit brand prefix (e.g. "[claude] "
// stripped to "claude") to a configured provider type, when it uniquely
// identifies one: an exact name match wins, otherwise exactly one configured
// provider name may start with the brand.
func (d *Dispatcher) brandToProvider(brand string) (string, bool) {
	brand = strings.ToLower(brand)
	match, matches := "", 0
	for _, p := range d.providers {
		if strings.EqualFold(p, brand) {
			return p, true
		}
		if strings.HasPrefix(strings.ToLower(p), brand) {
			match = p
			matches++
		}
	}
	if matches == 1 {
		return match, true
	}
	return "", false
}

// firstConfigured returns family if it's among the configured providers,
// else the gateway's default provider.
func (d *Dispatcher) firstConfigured(family string) string {
	for _, p := range d.providers {
		if p == family {
			return p
		}
	}
	return d.defaultProvider
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
