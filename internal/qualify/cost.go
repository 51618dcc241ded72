package qualify

import "github.com/siteminer/siteminer/internal/llm"

// Rates prices model usage in USD per million tokens.
type Rates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost estimates the USD spend of one completion's usage.
func (r Rates) Cost(usage llm.Usage) float64 {
	const mtok = 1_000_000
	return float64(usage.PromptTokens)/mtok*r.InputPerMTok +
		float64(usage.CompletionTokens)/mtok*r.OutputPerMTok
}
