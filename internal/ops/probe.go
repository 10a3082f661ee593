package ops

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
)

// ImageInfo is the header information of a capillary image.
type ImageInfo struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// ProbeImage reads only the image header to get the canvas size. Pixel data
// is never decoded.
func ProbeImage(path string, cfg *config.Config) (*ImageInfo, error) {
	if err := ValidatePath(path, PathCheckRead, KindImage, cfg); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open image: %w", err))
	}
	defer file.Close()

	conf, format, err := image.DecodeConfig(file)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported or corrupt image: %v", err))
	}
	if conf.Width <= 0 || conf.Height <= 0 {
		return nil, errors.NewInvalidRequest("image has no pixels")
	}

	return &ImageInfo{
		Path:   path,
		Width:  conf.Width,
		Height: conf.Height,
		Format: format,
	}, nil
}
