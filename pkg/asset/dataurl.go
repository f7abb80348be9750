package asset

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const defaultMIMEType = "application/octet-stream"

// EncodeDataURL reads r to the end and returns a self-contained data URL
// embedding mimeType and the base64 payload.
func EncodeDataURL(r io.Reader, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	var b strings.Builder
	b.WriteString("data:" + mimeType + ";base64,")

	enc := base64.NewEncoder(base64.StdEncoding, &b)
	if _, err := io.Copy(enc, r); err != nil {
		return "", goerr.Wrap(err, "failed to read asset", goerr.V("mime_type", mimeType))
	}
	if err := enc.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to flush base64 encoder")
	}

	return b.String(), nil
}

// ParseDataURL decodes a base64 data URL produced by EncodeDataURL.
func ParseDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", goerr.New("not a data URL")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", goerr.New("data URL has no payload separator")
	}

	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", goerr.New("data URL is not base64 encoded", goerr.V("meta", meta))
	}
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to decode data URL payload", goerr.V("mime_type", mimeType))
	}

	return data, mimeType, nil
}
