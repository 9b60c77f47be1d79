package wa

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"wa-gateway/internal/transport"
)

// uploader is the part of whatsmeow.Client needed to build media messages.
type uploader interface {
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// buildMessage turns an outbound payload into a whatsmeow message, uploading
// media first when needed.
func buildMessage(ctx context.Context, up uploader, msg transport.Message) (*waE2E.Message, error) {
	switch msg.Kind {
	case transport.MessageText:
		return &waE2E.Message{Conversation: proto.String(msg.Text)}, nil

	case transport.MessageImage:
		resp, err := up.Upload(ctx, msg.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("failed to upload image: %w", err)
		}
		return imageMessage(resp, msg), nil

	case transport.MessageAudio:
		resp, err := up.Upload(ctx, msg.Data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to upload audio: %w", err)
		}
		return audioMessage(resp, msg), nil

	default:
		return nil, fmt.Errorf("unsupported message kind %d", msg.Kind)
	}
}

func imageMessage(up whatsmeow.UploadResponse, msg transport.Message) *waE2E.Message {
	img := &waE2E.ImageMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(msg.MimeType),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(msg.Data)); err == nil {
		img.Width = proto.Uint32(uint32(cfg.Width))
		img.Height = proto.Uint32(uint32(cfg.Height))
	}
	if msg.Caption != "" {
		img.Caption = proto.String(msg.Caption)
	}
	return &waE2E.Message{ImageMessage: img}
}

func audioMessage(up whatsmeow.UploadResponse, msg transport.Message) *waE2E.Message {
	return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(msg.MimeType),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		PTT:           proto.Bool(msg.VoiceNote),
	}}
}
