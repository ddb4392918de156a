package images

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testImage(t *testing.T, w, h int) ([]byte, image.Image) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes(), img
}

func TestThumbnailScalesDown(t *testing.T) {
	_, img := testImage(t, 960, 480)
	out := Thumbnail(img, ThumbnailMax)
	b := out.Bounds()
	if b.Dx() != 480 || b.Dy() != 240 {
		t.Fatalf("Thumbnail() bounds = %dx%d, want 480x240", b.Dx(), b.Dy())
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	_, img := testImage(t, 100, 50)
	out := Thumbnail(img, ThumbnailMax)
	if out != img {
		t.Fatal("expected small image to pass through unchanged")
	}
}

func TestThumbnailPortrait(t *testing.T) {
	_, img := testImage(t, 480, 960)
	out := Thumbnail(img, ThumbnailMax)
	b := out.Bounds()
	if b.Dx() != 240 || b.Dy() != 480 {
		t.Fatalf("Thumbnail() bounds = %dx%d, want 240x480", b.Dx(), b.Dy())
	}
}

func TestProcessUploadProducesJPEG(t *testing.T) {
	data, _ := testImage(t, 960, 720)
	out, err := ProcessUpload(data)
	if err != nil {
		t.Fatalf("ProcessUpload() error = %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format = %q, want jpeg", format)
	}
	b := img.Bounds()
	if b.Dx() != 480 || b.Dy() != 360 {
		t.Fatalf("output bounds = %dx%d, want 480x360", b.Dx(), b.Dy())
	}
}

func TestProcessUploadRejectsGarbage(t *testing.T) {
	if _, err := ProcessUpload([]byte("not an image")); !errors.Is(err, ErrBadImage) {
		t.Fatalf("ProcessUpload() error = %v, want ErrBadImage", err)
	}
}

func TestCrop(t *testing.T) {
	_, img := testImage(t, 200, 200)
	out, err := Crop(img, 50, 60, 150, 180)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	b := out.Bounds()
	if b.Dx() != 100 || b.Dy() != 120 {
		t.Fatalf("Crop() bounds = %dx%d, want 100x120", b.Dx(), b.Dy())
	}
}

func TestCropRejectsBadBox(t *testing.T) {
	_, img := testImage(t, 100, 100)
	cases := []struct {
		name                     string
		left, top, right, bottom int
	}{
		{"outside", 0, 0, 150, 150},
		{"empty", 50, 50, 50, 50},
		{"inverted", 80, 80, 20, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Crop(img, tc.left, tc.top, tc.right, tc.bottom); !errors.Is(err, ErrBadCropBox) {
				t.Fatalf("Crop() error = %v, want ErrBadCropBox", err)
			}
		})
	}
}

func TestCropToAvatar(t *testing.T) {
	data, _ := testImage(t, 300, 300)
	out, err := CropToAvatar(data, 0, 0, 120, 120)
	if err != nil {
		t.Fatalf("CropToAvatar() error = %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format = %q, want jpeg", format)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 120 {
		t.Fatalf("output bounds = %dx%d, want 120x120", b.Dx(), b.Dy())
	}
}
