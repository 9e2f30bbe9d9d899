package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	openrouterx "github.com/tanpawarit/voice-order-agent/pkg/openrouter"
)

const (
	ClassifierRules = "rules"
	ClassifierModel = "model"
)

// Config selects and tunes the intent classifier. The hosted model is only
// contacted when Classifier is "model".
type Config struct {
	Classifier         string        `envconfig:"CLASSIFIER" split_words:"true" default:"rules"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"openai/gpt-4o-mini"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"500"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	HistoryWindow      int           `envconfig:"HISTORY_WINDOW" split_words:"true" default:"6"`
	CatalogLimit       int           `envconfig:"CATALOG_LIMIT" split_words:"true" default:"10"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
}

func (c Config) Kind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Classifier))
	if kind == "" {
		return ClassifierRules
	}
	return kind
}

func (c Config) Validate() error {
	switch c.Kind() {
	case ClassifierRules:
		return nil
	case ClassifierModel:
	default:
		return fmt.Errorf("%w: unknown classifier %q", contractx.ErrValidation, c.Classifier)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: classifier model is required", contractx.ErrValidation)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be within [0, 2]", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouter() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
