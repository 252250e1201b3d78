package wa

import (
	"encoding/json"

	"crm-whatsapp/internal/repo"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/encoding/protojson"
)

// Placeholders stored for messages that carry no text of their own.
const (
	AudioPlaceholder       = "[Áudio]"
	ImagePlaceholder       = "[Imagem]"
	VideoPlaceholder       = "[Vídeo]"
	DocumentPlaceholder    = "[Documento]"
	UnsupportedPlaceholder = "[Mensagem não suportada]"
)

// Content is the normalized form of one gateway message variant.
type Content struct {
	Text     string
	Kind     string
	MediaURL string
	Mimetype string
}

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true, AllowPartial: true}

// ExtractContent decodes the gateway's nested message object and picks exactly one variant.
// Payloads that protobuf rejects (gateways tend to serialize int64 fields oddly) are read
// again leniently so captions and filenames still come through.
func ExtractContent(raw json.RawMessage) Content {
	var extra struct {
		MediaURL string `json:"mediaUrl"`
	}
	if len(raw) == 0 || string(raw) == "null" {
		return unsupported()
	}
	_ = json.Unmarshal(raw, &extra)

	msg := &waProto.Message{}
	if err := unmarshalOpts.Unmarshal(raw, msg); err != nil {
		msg = lenientMessage(raw)
	}

	c := FromMessage(msg)
	if extra.MediaURL != "" && c.Kind != repo.KindText && c.Kind != repo.KindSystem {
		c.MediaURL = extra.MediaURL
	}
	return c
}

// FromMessage applies the extraction precedence: conversation, extended text, image caption,
// video caption, document filename, audio, captionless media, unsupported.
func FromMessage(msg *waProto.Message) Content {
	if msg == nil {
		return unsupported()
	}
	if inner := unwrap(msg); inner != nil {
		msg = inner
	}

	img := msg.GetImageMessage()
	vid := msg.GetVideoMessage()
	doc := msg.GetDocumentMessage()
	if doc == nil {
		doc = msg.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage()
	}

	switch {
	case msg.GetConversation() != "":
		return Content{Text: msg.GetConversation(), Kind: repo.KindText}
	case msg.GetExtendedTextMessage().GetText() != "":
		return Content{Text: msg.GetExtendedTextMessage().GetText(), Kind: repo.KindText}
	case img.GetCaption() != "":
		return Content{Text: img.GetCaption(), Kind: repo.KindImage, Mimetype: img.GetMimetype()}
	case vid.GetCaption() != "":
		return Content{Text: vid.GetCaption(), Kind: repo.KindFile, Mimetype: vid.GetMimetype()}
	case doc.GetFileName() != "":
		return Content{Text: doc.GetFileName(), Kind: repo.KindFile, Mimetype: doc.GetMimetype()}
	case msg.GetAudioMessage() != nil:
		return Content{Text: AudioPlaceholder, Kind: repo.KindAudio, Mimetype: msg.GetAudioMessage().GetMimetype()}
	case img != nil:
		return Content{Text: ImagePlaceholder, Kind: repo.KindImage, Mimetype: img.GetMimetype()}
	case vid != nil:
		return Content{Text: VideoPlaceholder, Kind: repo.KindFile, Mimetype: vid.GetMimetype()}
	case doc != nil:
		return Content{Text: DocumentPlaceholder, Kind: repo.KindFile, Mimetype: doc.GetMimetype()}
	default:
		return unsupported()
	}
}

// unwrap opens the envelopes WhatsApp uses for disappearing and view-once messages.
func unwrap(msg *waProto.Message) *waProto.Message {
	switch {
	case msg.GetEphemeralMessage().GetMessage() != nil:
		return msg.GetEphemeralMessage().GetMessage()
	case msg.GetViewOnceMessage().GetMessage() != nil:
		return msg.GetViewOnceMessage().GetMessage()
	case msg.GetViewOnceMessageV2().GetMessage() != nil:
		return msg.GetViewOnceMessageV2().GetMessage()
	}
	return nil
}

func unsupported() Content {
	return Content{Text: UnsupportedPlaceholder, Kind: repo.KindSystem}
}

type lenientMedia struct {
	Caption  *string `json:"caption"`
	Mimetype *string `json:"mimetype"`
	FileName *string `json:"fileName"`
}

func (m *lenientMedia) image() *waProto.ImageMessage {
	if m == nil {
		return nil
	}
	return &waProto.ImageMessage{Caption: m.Caption, Mimetype: m.Mimetype}
}

func (m *lenientMedia) video() *waProto.VideoMessage {
	if m == nil {
		return nil
	}
	return &waProto.VideoMessage{Caption: m.Caption, Mimetype: m.Mimetype}
}

func (m *lenientMedia) audio() *waProto.AudioMessage {
	if m == nil {
		return nil
	}
	return &waProto.AudioMessage{Mimetype: m.Mimetype}
}

func (m *lenientMedia) document() *waProto.DocumentMessage {
	if m == nil {
		return nil
	}
	return &waProto.DocumentMessage{Caption: m.Caption, Mimetype: m.Mimetype, FileName: m.FileName}
}

// lenientMessage keeps only the fields extraction needs.
func lenientMessage(raw json.RawMessage) *waProto.Message {
	var v struct {
		Conversation *string `json:"conversation"`
		Extended     *struct {
			Text *string `json:"text"`
		} `json:"extendedTextMessage"`
		Image    *lenientMedia `json:"imageMessage"`
		Video    *lenientMedia `json:"videoMessage"`
		Audio    *lenientMedia `json:"audioMessage"`
		Document *lenientMedia `json:"documentMessage"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	msg := &waProto.Message{
		Conversation:    v.Conversation,
		ImageMessage:    v.Image.image(),
		VideoMessage:    v.Video.video(),
		AudioMessage:    v.Audio.audio(),
		DocumentMessage: v.Document.document(),
	}
	if v.Extended != nil {
		msg.ExtendedTextMessage = &waProto.ExtendedTextMessage{Text: v.Extended.Text}
	}
	return msg
}
