package provider

import (
	"fmt"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// DataURL builds a base64 data URL. An invalid MIME type is sent as
// application/octet-stream.
func DataURL(mimeType string, data []byte) string {
	if strings.Count(mimeType, "/") != 1 {
		mimeType = "application/octet-stream"
	}
	return dataurl.New(data, mimeType).String()
}

// DecodeDataURL splits a data URL into its content type and raw bytes. Both
// base64 and percent-encoded payloads are accepted.
func DecodeDataURL(u string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(u, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	du, err := dataurl.DecodeString(u)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return du.ContentType(), du.Data, nil
}

// MediaType returns the content type of a data URL, or "" when u is not one.
func MediaType(u string) string {
	mimeType, _, err := DecodeDataURL(u)
	if err != nil {
		return ""
	}
	return mimeType
}

// GuessMIME infers the image type of a data URL, defaulting to JPEG.
func GuessMIME(u string) string {
	switch mt := MediaType(u); mt {
	case "image/png", "image/webp":
		return mt
	}
	return "image/jpeg"
}
