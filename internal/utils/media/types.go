// Package media picks the MIME types attached to outbound media.
package media

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultAudioMimeType is what WhatsApp expects for voice notes.
	DefaultAudioMimeType = "audio/ogg; codecs=opus"
	defaultImageMimeType = "image/jpeg"
)

// AudioMimeType picks the MIME type of an audio object from its extension.
// Unknown extensions are treated as Opus.
func AudioMimeType(name string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "mp3", "m4a":
		return "audio/mp4"
	case "wav":
		return "audio/wav"
	case "aac":
		return "audio/aac"
	default:
		return DefaultAudioMimeType
	}
}

// ImageMimeType sniffs data. Anything that is not recognizably an image is
// labelled JPEG.
func ImageMimeType(data []byte) string {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return defaultImageMimeType
	}
	return mt.String()
}
