// Package images stores avatar images in object storage and performs
// the thumbnail and crop steps of the avatar flow.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	_ "image/gif"
	_ "image/png"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	xdraw "golang.org/x/image/draw"
)

// ThumbnailMax is the longest edge an uploaded avatar is scaled to
// before the crop step.
const ThumbnailMax = 480

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

func (s *Service) Store(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("store object %s: %w", key, err)
	}
	return nil
}

func (s *Service) Load(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("load object %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

var ErrBadImage = errors.New("unreadable image data")

// ProcessUpload decodes an uploaded image, scales it down so its
// longest edge is at most ThumbnailMax, and re-encodes it as JPEG.
func ProcessUpload(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrBadImage
	}
	return encodeJPEG(Thumbnail(img, ThumbnailMax))
}

// Thumbnail scales img down proportionally so that neither edge
// exceeds max. Images already within bounds are returned unchanged.
func Thumbnail(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return img
	}

	nw, nh := max, max
	if w > h {
		nh = h * max / w
	} else {
		nw = w * max / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

var ErrBadCropBox = errors.New("crop box outside image bounds")

// Crop cuts the [left,top,right,bottom) box out of img. The box must
// be non-empty and inside the image.
func Crop(img image.Image, left, top, right, bottom int) (image.Image, error) {
	b := img.Bounds()
	box := image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+right, b.Min.Y+bottom)
	if box.Empty() || !box.In(b) {
		return nil, ErrBadCropBox
	}

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, box.Min, xdraw.Src)
	return dst, nil
}

// CropToAvatar applies the crop box to stored image data and returns
// the final RGB JPEG bytes.
func CropToAvatar(data []byte, left, top, right, bottom int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrBadImage
	}
	cropped, err := Crop(img, left, top, right, bottom)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(cropped)
}

// encodeJPEG draws onto an opaque RGBA canvas first, which flattens
// alpha and palette images into plain RGB.
func encodeJPEG(img image.Image) ([]byte, error) {
	b := img.Bounds()
	rgb := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgb, rgb.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(rgb, rgb.Bounds(), img, b.Min, xdraw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
