// Package usage tracks per-call token consumption: a pricing table, a
// tracker that turns span-level counts into persisted records, a span
// observer that feeds the tracker from the telemetry fabric, and an
// optional text-based estimator for services that report no usage.
package usage

import (
	"sort"
	"strings"
)

// ModelRate is the USD price per 1000 tokens for one model family.
type ModelRate struct {
	Prompt     float64
	Completion float64
}

// FallbackModel prices unknown model identifiers.
const FallbackModel = "gpt-4o-mini"

var pricingTable = map[string]ModelRate{
	"gpt-4o":                 {Prompt: 0.005, Completion: 0.015},
	"gpt-4o-mini":            {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4.1-mini":           {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4":                  {Prompt: 0.03, Completion: 0.06},
	"gpt-35-turbo":           {Prompt: 0.0015, Completion: 0.002},
	"text-embedding-3-small": {Prompt: 0.00002, Completion: 0},
	"text-embedding-3-large": {Prompt: 0.00013, Completion: 0},
	"text-embedding-ada-002": {Prompt: 0.0001, Completion: 0},
}

// pricingKeys holds the table keys longest-first so that versioned
// deployment names ("gpt-4o-2024-08-06") match their most specific family
// and "gpt-4o-mini" wins over "gpt-4o".
var pricingKeys = func() []string {
	keys := make([]string, 0, len(pricingTable))
	for k := range pricingTable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Rates resolves the pricing row for a model identifier. The second
// return is false when the identifier was not recognized; unknown
// non-empty identifiers fall back to the gpt-4o-mini row, the empty
// identifier prices at zero.
func Rates(model string) (ModelRate, bool) {
	if model == "" {
		return ModelRate{}, false
	}

	key := strings.ToLower(strings.TrimSpace(model))
	if rate, ok := pricingTable[key]; ok {
		return rate, true
	}
	for _, k := range pricingKeys {
		if strings.HasPrefix(key, k) {
			return pricingTable[k], true
		}
	}
	return pricingTable[FallbackModel], false
}

// CostBreakdown is the priced form of one token count pair.
type CostBreakdown struct {
	Prompt     float64
	Completion float64
	Total      float64
}

// ComputeCost prices a token count pair against a rate row. Rates are per
// 1000 tokens.
func ComputeCost(rate ModelRate, promptTokens, completionTokens int) CostBreakdown {
	prompt := rate.Prompt * float64(promptTokens) / 1000
	completion := rate.Completion * float64(completionTokens) / 1000
	return CostBreakdown{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
	}
}
