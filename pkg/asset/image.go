package asset

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

// LoadImage stages a reference image from a file. Oversized files are
// rejected before they are read.
func LoadImage(path string) (*model.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat image", goerr.V("path", path))
	}
	if info.Size() > model.MaxImageSize {
		return nil, goerr.Wrap(model.ErrImageTooLarge, "image rejected", goerr.V("path", path), goerr.V("size", info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read image", goerr.V("path", path))
	}

	img, err := model.NewImage(data, "")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stage image", goerr.V("path", path))
	}
	return img, nil
}
