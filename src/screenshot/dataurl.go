package screenshot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrInvalidDataURL wraps every DecodeDataURL failure.
var ErrInvalidDataURL = errors.New("invalid image data URL")

// EncodeDataURL renders data as a base64 data URL of the given MIME type.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 image data URL of the form
// data:image/<subtype>[;params];base64,<payload>. It returns the payload and
// the bare media type.
func DecodeDataURL(in string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(in, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURL)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}
	header, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return nil, "", fmt.Errorf("%w: payload is not base64", ErrInvalidDataURL)
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, "", fmt.Errorf("%w: media type %q: %v", ErrInvalidDataURL, header, err)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, "", fmt.Errorf("%w: %s is not an image type", ErrInvalidDataURL, mediaType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mediaType, nil
}
