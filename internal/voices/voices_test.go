package voices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguagesOrder(t *testing.T) {
	codes := make([]string, 0, len(Languages))
	for _, l := range Languages {
		codes = append(codes, l.Code)
		assert.NotEmpty(t, l.Name)
	}
	assert.Equal(t, []string{"a", "b", "e", "f", "h", "i", "p", "j", "z"}, codes)

	m := LanguageMap()
	assert.Len(t, m, 9)
	assert.Equal(t, "Mandarin Chinese", m["z"])
}

func TestVoicesForDefaultLanguage(t *testing.T) {
	r := NewRegistry(nil)

	got := r.VoicesFor(DefaultLang)
	require.Len(t, got, 28)
	assert.Equal(t, "af_heart", got[0])
	assert.Equal(t, "bm_lewis", got[27])
	for _, v := range got {
		assert.NotEmpty(t, v)
	}
	assert.Equal(t, got, r.VoicesFor(DefaultLang))

	// Callers get their own copy.
	got[0] = "mutated"
	assert.Equal(t, "af_heart", r.VoicesFor(DefaultLang)[0])
}

func TestVoicesForOtherLanguages(t *testing.T) {
	r := NewRegistry(nil)
	for _, code := range []string{"b", "e", "j", "z"} {
		assert.Equal(t, []string{"en_female_1", "en_male_1", "en_female_2", "en_male_2"}, r.VoicesFor(code))
	}
}

func TestVoicesOverridesAndFallback(t *testing.T) {
	r := NewRegistry(map[string][]string{
		"b": {"bf_emma", "bm_george"},
		"f": {},
	})

	assert.Equal(t, []string{"bf_emma", "bm_george"}, r.VoicesFor("b"))
	assert.Equal(t, Fallback, r.VoicesFor("f"))
	assert.True(t, r.Supports("b", "bm_george"))
	assert.False(t, r.Supports("b", "af_heart"))
}

func TestSplitVoice(t *testing.T) {
	tests := []struct {
		voice     string
		wantLang  string
		wantVoice string
	}{
		{"af_heart", "a", "af_heart"},
		{"b.bm_lewis", "b", "bm_lewis"},
		{"j.en_female_1", "j", "en_female_1"},
		{"x.bm_lewis", "a", "x.bm_lewis"},
		{"a.", "a", "a."},
		{"e.", "a", "e."},
		{"e.x", "e", "x"},
		{"b.v.w", "b", "v.w"},
	}
	for _, tt := range tests {
		t.Run(tt.voice, func(t *testing.T) {
			lang, voice := SplitVoice(tt.voice, DefaultLang)
			assert.Equal(t, tt.wantLang, lang)
			assert.Equal(t, tt.wantVoice, voice)
		})
	}
}
