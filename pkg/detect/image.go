package detect

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"strings"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// EncodeDataURL encodes an image as a base64 JPEG data URL.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL returns the raw bytes of a base64 data URL. Any image media
// type is accepted; only the part after the comma is decoded.
func DecodeDataURL(s string) ([]byte, error) {
	head, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(head, "data:") || !strings.HasSuffix(head, ";base64") {
		return nil, errors.New("detect: not a base64 data URL")
	}
	return base64.StdEncoding.DecodeString(payload)
}
