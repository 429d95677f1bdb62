package llm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewProvider creates the adapter for a provider config. apiKey comes from
// the credential resolver; configs for vendors without credentials are
// filtered out before this is called.
func NewProvider(cfg ProviderConfig, apiKey string, log *logrus.Logger) (Provider, error) {
	switch cfg.Vendor {
	case VendorGemini:
		return NewGeminiProvider(GeminiConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Log:     log,
		}), nil
	case VendorOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Log:     log,
		}), nil
	case VendorAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  apiKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Log:     log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vendor: %s", cfg.Vendor)
	}
}
