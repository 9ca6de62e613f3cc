package capture

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

var (
	pixelFormatMJPEG = fourcc("MJPG")
	pixelFormatYUYV  = fourcc("YUYV")
)

// preferredFormats lists the pixel formats we can decode, best first.
var preferredFormats = []webcam.PixelFormat{pixelFormatMJPEG, pixelFormatYUYV}

func fourcc(code string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

func decodeFrame(format webcam.PixelFormat, buf []byte, width, height int) (image.Image, error) {
	switch format {
	case pixelFormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.Wrap(err, "decode mjpeg frame")
		}
		return img, nil
	case pixelFormatYUYV:
		return decodeYUYV(buf, width, height)
	}
	return nil, errors.Errorf("unsupported pixel format %#x", uint32(format))
}

// decodeYUYV copies a packed 4:2:2 frame into planar form. The source buffer
// belongs to the driver and is reused for the next frame. Drivers may pad
// rows, so the stride is taken from the buffer length.
func decodeYUYV(buf []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, errors.Errorf("invalid yuyv frame size %dx%d", width, height)
	}
	if len(buf) < width*height*2 {
		return nil, errors.Errorf("short yuyv frame: %d bytes for %dx%d", len(buf), width, height)
	}

	stride := len(buf) / height
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := buf[y*stride : y*stride+width*2]
		yo := y * img.YStride
		co := y * img.CStride
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[yo+x] = row[i]
			img.Cb[co+x/2] = row[i+1]
			img.Y[yo+x+1] = row[i+2]
			img.Cr[co+x/2] = row[i+3]
		}
	}
	return img, nil
}

// isDarkFrame spots the black frames many sensors emit while the exposure
// settles after streaming starts. Only YUYV luma is inspected; compressed
// frames are never considered dark.
func isDarkFrame(format webcam.PixelFormat, buf []byte) bool {
	if format != pixelFormatYUYV || len(buf) < 2 {
		return false
	}
	dark, total := 0, 0
	for i := 0; i < len(buf); i += 2 {
		if buf[i] < 20 {
			dark++
		}
		total++
	}
	return float64(dark)/float64(total) > 0.98
}
