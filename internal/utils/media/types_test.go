package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioMimeType(t *testing.T) {
	cases := map[string]string{
		"a.ogg":       DefaultAudioMimeType,
		"a.OPUS":      DefaultAudioMimeType,
		"a.mp3":       "audio/mp4",
		"a.m4a":       "audio/mp4",
		"a.wav":       "audio/wav",
		"a.aac":       "audio/aac",
		"noext":       DefaultAudioMimeType,
		"dir.v2/clip": DefaultAudioMimeType,
	}
	for name, want := range cases {
		assert.Equal(t, want, AudioMimeType(name), name)
	}
}

func TestImageMimeType(t *testing.T) {
	assert.Equal(t, "image/png", ImageMimeType([]byte("\x89PNG\r\n\x1a\n")))
	assert.Equal(t, "image/jpeg", ImageMimeType([]byte{0xff, 0xd8, 0xff, 0xe0}))
	assert.Equal(t, "image/jpeg", ImageMimeType([]byte("plain text")))
}
