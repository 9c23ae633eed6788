package domain

// supportedLanguages maps language codes to their English display names.
var supportedLanguages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
}

// supportedOrder keeps listings stable.
var supportedOrder = []string{"en", "hi", "es", "fr", "de", "zh", "ja", "ko", "ar"}

// Language describes a supported language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// LanguageDetectionResult is the output of the multilingual pre-processing step.
type LanguageDetectionResult struct {
	OriginalMessage   string `json:"original_message"`
	DetectedLanguage  string `json:"detected_language"`
	NormalizedMessage string `json:"normalized_message"`
}

// IsSupportedLanguage reports whether code is in the fixed supported set.
func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[code]
	return ok
}

// LanguageName returns the display name for code, or "Unknown".
func LanguageName(code string) string {
	if name, ok := supportedLanguages[code]; ok {
		return name
	}
	return "Unknown"
}

// SupportedLanguages lists the supported languages in a stable order.
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(supportedOrder))
	for _, code := range supportedOrder {
		out = append(out, Language{Code: code, Name: supportedLanguages[code]})
	}
	return out
}
