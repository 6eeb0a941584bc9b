package convo

import (
	"context"
	"time"

	"bot-financas/internal/wa"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

const processTimeout = 90 * time.Second

// Sender is the transport used to reply and fetch media.
type Sender interface {
	SendText(ctx context.Context, to types.JID, text string) error
	DownloadMedia(ctx context.Context, msg *waProto.Message) ([]byte, string, error)
}

// ProcessMessage implements wa.MessageProcessor.
func (e *Engine) ProcessMessage(ctx context.Context, evt *events.Message) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	sender := evt.Info.Sender.ToNonAD()
	in := Inbound{
		MessageID:   string(evt.Info.ID),
		WAID:        sender.User,
		WAJID:       sender.String(),
		DisplayName: evt.Info.PushName,
		Text:        wa.MessageText(evt.Message),
	}

	if wa.HasImage(evt.Message) && e.sender != nil {
		data, mime, err := e.sender.DownloadMedia(ctx, evt.Message)
		if err != nil {
			e.logger.Error("download image failed", "from", in.WAID, "error", err)
			e.countError()
			e.reply(ctx, evt, replyImageFailed)
			return
		}
		in.Image, in.MimeType = data, mime
	}

	if in.Text == "" && len(in.Image) == 0 {
		return
	}

	reply, err := e.Handle(ctx, in)
	if err != nil {
		e.logger.Error("handle message failed", "from", in.WAID, "error", err)
	}
	e.reply(ctx, evt, reply)
}

func (e *Engine) reply(ctx context.Context, evt *events.Message, text string) {
	if e.sender == nil || text == "" {
		return
	}
	if err := e.sender.SendText(wa.WithReply(ctx, evt), evt.Info.Chat, text); err != nil {
		e.logger.Error("send reply failed", "to", evt.Info.Chat.String(), "error", err)
		e.countError()
	}
}
