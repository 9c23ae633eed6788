package language

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/campusconnect/internal/config"
)

// NewFromConfig builds the pipeline selected by cfg.
func NewFromConfig(cfg *config.Config) *Pipeline {
	detector := NewWhatlangDetector(cfg.DetectorMinConfidence)

	var translator Translator
	switch cfg.Translator {
	case "http", "libretranslate":
		timeout := cfg.ResponseTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		translator = NewHTTPTranslator(cfg.TranslatorURL, cfg.TranslatorAPIKey, timeout)
		log.Info().Str("url", cfg.TranslatorURL).Msg("using HTTP translator")
	default:
		translator = MarkerTranslator{}
	}

	return NewPipeline(detector, translator)
}
