package render

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"
)

// JPEGQuality is the quality of annotated frames sent back to clients.
const JPEGQuality = 80

// ErrInvalidImage is returned when a payload does not decode to an image.
var ErrInvalidImage = errors.New("invalid image")

// DecodeBase64 decodes a base64 encoded image. A data URL prefix
// ("data:image/jpeg;base64,") is accepted. The caller must close the returned Mat.
func DecodeBase64(s string) (gocv.Mat, error) {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return gocv.NewMat(), ErrInvalidImage
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return img, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Empty() {
		return img, ErrInvalidImage
	}
	return img, nil
}

// EncodeJPEG encodes img as a JPEG of the given quality.
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases C memory that Close frees.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// EncodeBase64 encodes img as a base64 JPEG at JPEGQuality.
func EncodeBase64(img gocv.Mat) (string, error) {
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
