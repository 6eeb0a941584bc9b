package wa

import (
	"strings"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
)

// MessageText returns the typed text of a message, or the caption of an image.
func MessageText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return strings.TrimSpace(msg.GetConversation())
	case msg.GetExtendedTextMessage() != nil:
		return strings.TrimSpace(msg.GetExtendedTextMessage().GetText())
	case msg.GetImageMessage() != nil:
		return strings.TrimSpace(msg.GetImageMessage().GetCaption())
	}
	return ""
}

// HasImage reports whether the message carries a photo.
func HasImage(msg *waProto.Message) bool {
	return msg != nil && msg.GetImageMessage() != nil
}
