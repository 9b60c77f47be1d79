// Package auth holds the pairing QR rendering and the bearer-token guard of
// the HTTP API.
package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRSize is the edge length in pixels of rendered QR images.
const QRSize = 300

// QRPNG renders a pairing payload as a PNG image.
func QRPNG(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// QRDataURL renders a pairing payload as a base64 PNG data URL.
func QRDataURL(payload string) (string, error) {
	png, err := QRPNG(payload)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
