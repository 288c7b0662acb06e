// Package voices holds the static language table and the known voice
// identifiers for each language.
//
// The model does not expose its voice inventory, so the lists are curated by
// hand. Only the American English list is verified against the model; every
// other language gets a generic placeholder list that callers should treat as
// best effort.
package voices

import (
	"log/slog"
	"slices"
	"strings"
)

// DefaultLang is the language used when a request does not select one.
const DefaultLang = "a"

// Language is one entry of the language table.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Languages lists every supported language code in declaration order.
var Languages = []Language{
	{Code: "a", Name: "American English"},
	{Code: "b", Name: "British English"},
	{Code: "e", Name: "Spanish"},
	{Code: "f", Name: "French"},
	{Code: "h", Name: "Hindi"},
	{Code: "i", Name: "Italian"},
	{Code: "p", Name: "Brazilian Portuguese"},
	{Code: "j", Name: "Japanese"},
	{Code: "z", Name: "Mandarin Chinese"},
}

var americanEnglish = []string{
	"af_heart", "af_alloy", "af_aoede", "af_bella", "af_jessica", "af_kore", "af_nicole",
	"af_nova", "af_river", "af_sarah", "af_sky", "am_adam", "am_echo", "am_eric",
	"am_fenrir", "am_liam", "am_michael", "am_onyx", "am_puck", "am_santa", "bf_alice",
	"bf_emma", "bf_isabella", "bf_lily", "bm_daniel", "bm_fable", "bm_george", "bm_lewis",
}

var placeholders = []string{"en_female_1", "en_male_1", "en_female_2", "en_male_2"}

// Fallback is returned when a language resolves to an empty voice list.
var Fallback = []string{"bm_lewis", "af_heart", "en_female_1", "en_male_1", "en_female_2", "en_male_2", "om_dionysus"}

// IsLanguage reports whether code is one of the supported language codes.
func IsLanguage(code string) bool {
	_, ok := LanguageName(code)
	return ok
}

// LanguageName returns the human-readable name for code.
func LanguageName(code string) (string, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l.Name, true
		}
	}
	return "", false
}

// LanguageMap returns the language table keyed by code.
func LanguageMap() map[string]string {
	m := make(map[string]string, len(Languages))
	for _, l := range Languages {
		m[l.Code] = l.Name
	}
	return m
}

// SplitVoice extracts a language prefix from voices written as "<code>.<voice>".
// The prefix is only honoured when it names a known language; otherwise the
// voice is returned untouched together with defaultLang.
func SplitVoice(voice, defaultLang string) (lang, bare string) {
	if len(voice) <= 2 || !strings.Contains(voice, ".") {
		return defaultLang, voice
	}
	prefix, rest, _ := strings.Cut(voice, ".")
	if !IsLanguage(prefix) {
		return defaultLang, voice
	}
	return prefix, rest
}

// Registry resolves the voice list for a language code.
type Registry struct {
	overrides map[string][]string
}

// NewRegistry creates a registry. Entries in overrides replace the built-in
// list for their language code.
func NewRegistry(overrides map[string][]string) *Registry {
	o := make(map[string][]string, len(overrides))
	for code, list := range overrides {
		o[code] = slices.Clone(list)
	}
	return &Registry{overrides: o}
}

// VoicesFor returns a copy of the known voices for code.
func (r *Registry) VoicesFor(code string) []string {
	var list []string
	if o, ok := r.overrides[code]; ok {
		list = o
	} else if code == DefaultLang {
		list = americanEnglish
	} else {
		list = placeholders
	}

	if len(list) == 0 {
		slog.Warn("empty voice list, using fallback voices", "lang_code", code)
		return slices.Clone(Fallback)
	}
	return slices.Clone(list)
}

// Supports reports whether voice is known for code.
func (r *Registry) Supports(code, voice string) bool {
	return slices.Contains(r.VoicesFor(code), voice)
}
