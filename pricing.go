package zenllm

import (
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPricingFile names an optional YAML file whose entries replace or extend
// the built-in pricing catalog.
const EnvPricingFile = "ZENLLM_PRICING_FILE"

// ModelPricing holds USD prices per million tokens for one model.
type ModelPricing struct {
	ModelID     string  `yaml:"model_id"`
	InputPrice  float64 `yaml:"input_price_per_million_tokens"`
	OutputPrice float64 `yaml:"output_price_per_million_tokens"`
}

// ProviderPricing groups the catalog entries of one provider.
type ProviderPricing struct {
	ProviderName string         `yaml:"provider_name"`
	Models       []ModelPricing `yaml:"models"`
}

// defaultPricingCatalog is the built-in price list. Prices drift; the
// ZENLLM_PRICING_FILE override exists so deployments can pin current rates.
var defaultPricingCatalog = []ProviderPricing{
	{
		ProviderName: "Google Gemini",
		Models: []ModelPricing{
			{ModelID: "gemini-2.5-pro", InputPrice: 1.25, OutputPrice: 10.00},
			{ModelID: "gemini-2.5-flash", InputPrice: 0.30, OutputPrice: 2.50},
			{ModelID: "gemini-2.5-flash-lite", InputPrice: 0.10, OutputPrice: 0.40},
		},
	},
	{
		ProviderName: "Anthropic",
		Models: []ModelPricing{
			{ModelID: "claude-opus-4.1", InputPrice: 15.00, OutputPrice: 75.00},
			{ModelID: "claude-sonnet-4", InputPrice: 3.00, OutputPrice: 15.00},
			{ModelID: "claude-haiku-3.5", InputPrice: 0.80, OutputPrice: 4.00},
		},
	},
	{
		ProviderName: "Together.ai",
		Models: []ModelPricing{
			{ModelID: "llama-3.1-405b-instruct-turbo", InputPrice: 3.50, OutputPrice: 3.50},
			{ModelID: "deepseek-r1", InputPrice: 3.00, OutputPrice: 7.00},
			{ModelID: "qwen3-coder-480b-a35b-instruct", InputPrice: 2.00, OutputPrice: 2.00},
		},
	},
	{
		ProviderName: "Groq",
		Models: []ModelPricing{
			{ModelID: "llama-4-maverick", InputPrice: 0.20, OutputPrice: 0.60},
			{ModelID: "moonshotai/kimi-k2-instruct-0905", InputPrice: 1.00, OutputPrice: 3.00},
			{ModelID: "llama-3-8b-8k", InputPrice: 0.05, OutputPrice: 0.08},
		},
	},
	{
		ProviderName: "OpenAI",
		Models: []ModelPricing{
			{ModelID: "gpt-5", InputPrice: 1.25, OutputPrice: 10.00},
			{ModelID: "gpt-5-mini", InputPrice: 0.25, OutputPrice: 2.00},
			{ModelID: "gpt-5-nano", InputPrice: 0.05, OutputPrice: 0.40},
		},
	},
	{
		ProviderName: "DeepSeek",
		Models: []ModelPricing{
			{ModelID: "deepseek-chat", InputPrice: 0.56, OutputPrice: 1.68},
			{ModelID: "deepseek-reasoner", InputPrice: 3.00, OutputPrice: 7.00},
		},
	},
}

type pricingFile struct {
	Providers []ProviderPricing `yaml:"providers"`
}

// LoadPricingFile parses a YAML pricing catalog. Its entries are consulted
// before the built-in catalog.
func LoadPricingFile(path string) ([]ProviderPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "failed to read pricing file",
			Cause:   err,
		}}
	}
	var pf pricingFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "failed to parse pricing file",
			Cause:   err,
		}}
	}
	return pf.Providers, nil
}

// pricingCatalogs returns the catalogs in lookup order: env override first,
// then the built-in prices.
func pricingCatalogs() [][]ProviderPricing {
	catalogs := [][]ProviderPricing{}
	if path := os.Getenv(EnvPricingFile); path != "" {
		if override, err := LoadPricingFile(path); err == nil {
			catalogs = append(catalogs, override)
		}
	}
	return append(catalogs, defaultPricingCatalog)
}

// PricingCatalog returns the active catalog in lookup order: the
// ZENLLM_PRICING_FILE override first when present, then the built-in prices.
func PricingCatalog() []ProviderPricing {
	var out []ProviderPricing
	for _, catalog := range pricingCatalogs() {
		out = append(out, catalog...)
	}
	return out
}

// GetModelPricing finds the pricing for a model. Model names with prefixes
// (e.g. "together/meta-llama/llama-3-8b-8k") fall back to matching the part
// after the last slash.
func GetModelPricing(modelID string) *ModelPricing {
	if modelID == "" {
		return nil
	}

	catalogs := pricingCatalogs()

	lookup := func(id string) *ModelPricing {
		for _, catalog := range catalogs {
			for _, provider := range catalog {
				for i := range provider.Models {
					if provider.Models[i].ModelID == id {
						p := provider.Models[i]
						return &p
					}
				}
			}
		}
		return nil
	}

	if p := lookup(modelID); p != nil {
		return p
	}
	if idx := strings.LastIndex(modelID, "/"); idx >= 0 {
		return lookup(modelID[idx+1:])
	}
	return nil
}

// CostEstimate is the outcome of a cost calculation. Costs are USD. A nil
// component means the needed token count or price was unavailable.
type CostEstimate struct {
	Model       string
	Provider    string
	Approximate bool
	InputCost   *float64
	OutputCost  *float64
	Total       *float64
}

// EstimateCost estimates the cost of one request/response from its usage.
// Returns nil when the model has no known pricing.
func EstimateCost(model, provider string, usage Usage) *CostEstimate {
	pricing := GetModelPricing(model)
	if pricing == nil {
		return nil
	}

	est := &CostEstimate{
		Model:       model,
		Provider:    provider,
		Approximate: usage.Estimated,
	}

	inCost := round6(float64(usage.InputTokens) / 1e6 * pricing.InputPrice)
	outCost := round6(float64(usage.OutputTokens) / 1e6 * pricing.OutputPrice)
	total := round6(inCost + outCost)

	est.InputCost = &inCost
	est.OutputCost = &outCost
	est.Total = &total
	return est
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
