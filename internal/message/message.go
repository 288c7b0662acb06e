// Package message defines the wire types exchanged with API clients.
package message

// ModelCreated is the fixed creation timestamp reported for the model.
const ModelCreated = 1677610602

// SpeechRequest is the documented body of POST /v1/audio/speech. The handler
// decodes bodies leniently into a map; this type exists for the API docs and
// for clients.
type SpeechRequest struct {
	// Model is accepted for compatibility and otherwise ignored.
	Model string `json:"model,omitempty" example:"hexgrad/Kokoro-82M"`

	// Input is the text to synthesize. Required.
	Input string `json:"input" example:"Hello world!"`

	// Voice names a Kokoro voice. A "<lang>." prefix (e.g. "e.en_male_1")
	// selects the language; otherwise the default language is used. Voices for
	// languages other than "a" come from the voices.<code> configuration.
	Voice string `json:"voice,omitempty" example:"af_heart"`

	// ResponseFormat is one of mp3, opus, aac, flac, wav, pcm. Defaults to mp3.
	ResponseFormat string `json:"response_format,omitempty" example:"mp3"`

	// Speed multiplies the speaking rate. Defaults to 1.0.
	Speed float64 `json:"speed,omitempty" example:"1.0"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object" example:"list"`
	Data   []Model `json:"data"`
}

// Model describes the served model in OpenAI's format.
type Model struct {
	ID         string  `json:"id" example:"hexgrad/Kokoro-82M"`
	Object     string  `json:"object" example:"model"`
	Created    int64   `json:"created" example:"1677610602"`
	OwnedBy    string  `json:"owned_by" example:"user"`
	Permission []any   `json:"permission"`
	Root       string  `json:"root" example:"hexgrad/Kokoro-82M"`
	Parent     *string `json:"parent"`
}

// NewModelList returns the single-entry model listing for id.
func NewModelList(id string) ModelList {
	return ModelList{
		Object: "list",
		Data: []Model{{
			ID:         id,
			Object:     "model",
			Created:    ModelCreated,
			OwnedBy:    "user",
			Permission: []any{},
			Root:       id,
		}},
	}
}

// LanguageList is the body of GET /v1/languages.
type LanguageList struct {
	Object string     `json:"object" example:"list"`
	Data   []Language `json:"data"`
}

// Language is one supported language code.
type Language struct {
	Code string `json:"code" example:"a"`
	Name string `json:"name" example:"American English"`
}

// Health is the body of GET /health.
type Health struct {
	Status             string            `json:"status" example:"ok"`
	Model              string            `json:"model" example:"hexgrad/Kokoro-82M"`
	SupportedLanguages map[string]string `json:"supported_languages"`
	SupportedVoices    []string          `json:"supported_voices"`
	SupportedFormats   []string          `json:"supported_formats"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error" example:"Missing required parameter: input"`
}

// StreamDone is the final text frame of a streaming synthesis.
type StreamDone struct {
	Done    bool `json:"done"`
	Samples int  `json:"samples"`
}
