package model

import (
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// MaxImageSize is the largest reference image accepted for a generation.
const MaxImageSize = 4 * 1024 * 1024

var (
	ErrEmptyPrompt          = goerr.New("please enter a prompt to generate a video")
	ErrImageTooLarge        = goerr.New("image size should not exceed 4MB")
	ErrUnsupportedImageType = goerr.New("image must be PNG or JPEG")
	ErrInvalidAspectRatio   = goerr.New("invalid aspect ratio")
)

type AspectRatio string

const (
	AspectRatioLandscape AspectRatio = "16:9"
	AspectRatioPortrait  AspectRatio = "9:16"
	AspectRatioSquare    AspectRatio = "1:1"

	DefaultAspectRatio = AspectRatioLandscape
)

// AspectRatios returns the supported ratios in display order.
func AspectRatios() []AspectRatio {
	return []AspectRatio{AspectRatioLandscape, AspectRatioPortrait, AspectRatioSquare}
}

// Validate checks if the aspect ratio is one of the supported values
func (a AspectRatio) Validate() error {
	switch a {
	case AspectRatioLandscape, AspectRatioPortrait, AspectRatioSquare:
		return nil
	default:
		return goerr.Wrap(ErrInvalidAspectRatio, "unsupported aspect ratio", goerr.V("aspect_ratio", a))
	}
}

// Label returns a human readable name of the ratio
func (a AspectRatio) Label() string {
	switch a {
	case AspectRatioLandscape:
		return "Landscape"
	case AspectRatioPortrait:
		return "Portrait"
	case AspectRatioSquare:
		return "Square"
	default:
		return string(a)
	}
}

// Image is a reference image staged for a generation request.
type Image struct {
	Data     []byte
	MIMEType string
}

// NewImage validates raw image bytes and stages them. The MIME type is
// sniffed from the content when mimeType is empty.
func NewImage(data []byte, mimeType string) (*Image, error) {
	if len(data) > MaxImageSize {
		return nil, goerr.Wrap(ErrImageTooLarge, "image rejected", goerr.V("size", len(data)))
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))

	switch mimeType {
	case "image/png", "image/jpeg":
	default:
		return nil, goerr.Wrap(ErrUnsupportedImageType, "image rejected", goerr.V("mime_type", mimeType))
	}

	return &Image{Data: data, MIMEType: mimeType}, nil
}

// GenerationRequest is one user submission. It is never persisted.
type GenerationRequest struct {
	Prompt      string
	Image       *Image
	AspectRatio AspectRatio
}

// Validate checks the request before any remote call is made
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if err := r.AspectRatio.Validate(); err != nil {
		return err
	}
	if r.Image != nil && len(r.Image.Data) > MaxImageSize {
		return goerr.Wrap(ErrImageTooLarge, "image rejected", goerr.V("size", len(r.Image.Data)))
	}
	return nil
}
