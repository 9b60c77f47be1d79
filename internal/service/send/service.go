// Package send delivers outbound content through a tenant's live session.
package send

import (
	"context"
	"errors"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-gateway/internal/transport"
	"wa-gateway/internal/utils/media"
)

// ErrMediaNotFound is returned when the referenced media object does not
// exist.
var ErrMediaNotFound = errors.New("media not found")

// Blobs reads stored media.
type Blobs interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Sessions resolves the live connection of a tenant.
type Sessions interface {
	GetSession(userID string) (transport.Conn, error)
}

// SendService sends text, images and voice notes on behalf of tenants.
type SendService struct {
	sessions Sessions
	blobs    Blobs
	log      waLog.Logger
}

// NewSendService creates a new SendService.
func NewSendService(sessions Sessions, blobs Blobs, log waLog.Logger) *SendService {
	return &SendService{
		sessions: sessions,
		blobs:    blobs,
		log:      log.Sub("SendService"),
	}
}

// SendText sends a plain text message and returns its ID.
func (s *SendService) SendText(ctx context.Context, userID, to, text string) (string, error) {
	return s.send(ctx, userID, to, transport.Message{Kind: transport.MessageText, Text: text})
}

// SendImage sends the image stored at key with an optional caption.
func (s *SendService) SendImage(ctx context.Context, userID, to, key, caption string) (string, error) {
	data, err := s.fetch(ctx, key)
	if err != nil {
		return "", err
	}
	return s.send(ctx, userID, to, transport.Message{
		Kind:     transport.MessageImage,
		Data:     data,
		MimeType: media.ImageMimeType(data),
		Caption:  caption,
	})
}

// SendAudio sends the audio stored at key as a voice note.
func (s *SendService) SendAudio(ctx context.Context, userID, to, key string) (string, error) {
	data, err := s.fetch(ctx, key)
	if err != nil {
		return "", err
	}
	return s.send(ctx, userID, to, transport.Message{
		Kind:      transport.MessageAudio,
		Data:      data,
		MimeType:  media.AudioMimeType(key),
		VoiceNote: true,
	})
}

func (s *SendService) send(ctx context.Context, userID, to string, msg transport.Message) (string, error) {
	conn, err := s.sessions.GetSession(userID)
	if err != nil {
		return "", err
	}

	id, err := conn.Send(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	s.log.Debugf("Sent message %s for %s", id, userID)
	return id, nil
}

func (s *SendService) fetch(ctx context.Context, key string) ([]byte, error) {
	ok, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check media: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, key)
	}

	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	return data, nil
}
