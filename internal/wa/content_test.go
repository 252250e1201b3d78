package wa

import (
	"encoding/json"
	"testing"

	"crm-whatsapp/internal/repo"

	"github.com/stretchr/testify/assert"
)

func TestExtractContentPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantText string
		wantKind string
	}{
		{"conversation wins over extended text", `{"conversation":"Olá","extendedTextMessage":{"text":"ignored"}}`, "Olá", repo.KindText},
		{"extended text", `{"extendedTextMessage":{"text":"link https://x"}}`, "link https://x", repo.KindText},
		{"image caption", `{"imageMessage":{"caption":"foto","mimetype":"image/jpeg"}}`, "foto", repo.KindImage},
		{"video caption", `{"videoMessage":{"caption":"clip"}}`, "clip", repo.KindFile},
		{"document filename", `{"documentMessage":{"fileName":"nota.pdf"}}`, "nota.pdf", repo.KindFile},
		{"audio placeholder", `{"audioMessage":{"ptt":true}}`, AudioPlaceholder, repo.KindAudio},
		{"image without caption", `{"imageMessage":{"mimetype":"image/png"}}`, ImagePlaceholder, repo.KindImage},
		{"video without caption", `{"videoMessage":{}}`, VideoPlaceholder, repo.KindFile},
		{"unknown variant", `{"reactionMessage":{"text":"👍"}}`, UnsupportedPlaceholder, repo.KindSystem},
		{"unknown fields only", `{"somethingNew":{"a":1}}`, UnsupportedPlaceholder, repo.KindSystem},
		{"ephemeral wrapper", `{"ephemeralMessage":{"message":{"conversation":"some"}}}`, "some", repo.KindText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ExtractContent(json.RawMessage(tt.payload))
			assert.Equal(t, tt.wantText, c.Text)
			assert.Equal(t, tt.wantKind, c.Kind)
		})
	}
}

func TestExtractContentEmpty(t *testing.T) {
	assert.Equal(t, repo.KindSystem, ExtractContent(nil).Kind)
	assert.Equal(t, UnsupportedPlaceholder, ExtractContent(json.RawMessage("null")).Text)
}

func TestExtractContentLenientFallback(t *testing.T) {
	// fileLength serialized as a Long object is not valid protobuf JSON.
	payload := `{"imageMessage":{"caption":"recibo","fileLength":{"low":1024,"high":0,"unsigned":true}},"mediaUrl":"https://cdn.example.com/a.jpg"}`
	c := ExtractContent(json.RawMessage(payload))
	assert.Equal(t, "recibo", c.Text)
	assert.Equal(t, repo.KindImage, c.Kind)
	assert.Equal(t, "https://cdn.example.com/a.jpg", c.MediaURL)
}

func TestExtractContentIgnoresMediaURLForText(t *testing.T) {
	c := ExtractContent(json.RawMessage(`{"conversation":"oi","mediaUrl":"https://x"}`))
	assert.Empty(t, c.MediaURL)
}
