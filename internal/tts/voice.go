package tts

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Voices of the speech engine, keyed by ISO 639-1 language.
var voicesByLanguage = map[string]string{
	"en": "af_heart",
	"zh": "zf_xiaobei",
	"ja": "jf_alpha",
}

// PickVoice chooses a voice matching the language of text, or fallback.
func PickVoice(text, fallback string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	lang := whatlanggo.DetectLang(text).Iso6391()
	if voice, ok := voicesByLanguage[lang]; ok {
		return voice
	}
	return fallback
}
