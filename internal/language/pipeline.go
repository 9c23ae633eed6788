// Package language detects the language of inbound text and renders replies into the
// sender's language. The detector and translator are capabilities so the NLP backends can
// be swapped without touching the conversation engine.
package language

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	xlanguage "golang.org/x/text/language"

	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
)

// Detector identifies the language of a text. ok is false when the result is inconclusive.
type Detector interface {
	Detect(ctx context.Context, text string) (code string, ok bool, err error)
}

// Translator renders text into target. source may be empty when unknown.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
}

// Pipeline wraps a Detector and a Translator with the fallback rules of the service.
type Pipeline struct {
	detector   Detector
	translator Translator
	logger     zerolog.Logger
}

// NewPipeline creates a pipeline over the given capabilities.
func NewPipeline(detector Detector, translator Translator) *Pipeline {
	return &Pipeline{
		detector:   detector,
		translator: translator,
		logger:     logging.Component("language"),
	}
}

// DetectLanguage returns a supported language code for text. It never fails: inconclusive,
// unsupported, or failed detection yields domain.DefaultLanguage.
func (p *Pipeline) DetectLanguage(ctx context.Context, text string) string {
	code, err := p.detect(ctx, text)
	if err != nil {
		p.logger.Debug().Err(err).Msg("falling back to default language")
		return domain.DefaultLanguage
	}
	return code
}

func (p *Pipeline) detect(ctx context.Context, text string) (code string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.Wrap(domain.ErrDetectionFailure, "empty text")
	}
	if p.detector == nil {
		return "", errors.Wrap(domain.ErrDetectionFailure, "no detector configured")
	}

	defer func() {
		if r := recover(); r != nil {
			code = ""
			err = errors.Wrapf(domain.ErrDetectionFailure, "detector panic: %v", r)
		}
	}()

	raw, ok, derr := p.detector.Detect(ctx, text)
	if derr != nil {
		return "", errors.Wrapf(domain.ErrDetectionFailure, "%v", derr)
	}
	if !ok {
		return "", errors.Wrap(domain.ErrDetectionFailure, "inconclusive")
	}

	normalized := NormalizeCode(raw)
	if !domain.IsSupportedLanguage(normalized) {
		return "", errors.Wrapf(domain.ErrDetectionFailure, "unsupported language %q", raw)
	}
	return normalized, nil
}

// Translate renders text into target. Identical source and target short-circuit to text.
func (p *Pipeline) Translate(ctx context.Context, text, target, source string) (string, error) {
	target = NormalizeCode(target)
	if source != "" {
		source = NormalizeCode(source)
	}
	if source == target {
		return text, nil
	}
	if target == "" {
		return "", errors.Wrap(domain.ErrTranslationFailure, "target language is required")
	}
	if p.translator == nil {
		return "", errors.Wrap(domain.ErrTranslationFailure, "no translator configured")
	}

	return p.translate(ctx, text, target, source)
}

func (p *Pipeline) translate(ctx context.Context, text, target, source string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = errors.Wrapf(domain.ErrTranslationFailure, "translator panic: %v", r)
		}
	}()

	out, err = p.translator.Translate(ctx, text, target, source)
	if err != nil {
		return "", errors.Wrapf(domain.ErrTranslationFailure, "%s->%s: %v", source, target, err)
	}
	return out, nil
}

// ProcessMultilingualQuery detects the language of message and prepares the text handed
// to the responder. The normalized text is currently the original message.
func (p *Pipeline) ProcessMultilingualQuery(ctx context.Context, message string) domain.LanguageDetectionResult {
	detected := p.DetectLanguage(ctx, message)

	// Normalization is a pass-through until a pivot translator exists.
	normalized := message

	return domain.LanguageDetectionResult{
		OriginalMessage:   message,
		DetectedLanguage:  detected,
		NormalizedMessage: normalized,
	}
}

// NormalizeCode reduces a BCP 47 tag to its lower-case base language ("zh-CN" -> "zh").
// Unparseable input is returned lower-cased and trimmed.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	tag, err := xlanguage.Parse(code)
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	return base.String()
}

// MarkerTranslator tags text with the target language instead of translating it.
// English targets are returned unchanged.
type MarkerTranslator struct{}

// Translate implements Translator.
func (MarkerTranslator) Translate(_ context.Context, text, target, source string) (string, error) {
	if source == target || target == domain.DefaultLanguage {
		return text, nil
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(target), text), nil
}
