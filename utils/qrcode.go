package utils

import (
	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the edge length in pixels of generated codes.
const DefaultQRSize = 256

// GenerateQRCode renders text as a PNG QR code. Sizes outside 64..1024 fall back to DefaultQRSize.
func GenerateQRCode(text string, size int) ([]byte, error) {
	if size < 64 || size > 1024 {
		size = DefaultQRSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
