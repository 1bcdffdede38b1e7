// Package storage は商品画像の検証と保存。
package storage

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// 5MB
const MaxImageSize = 5 * 1024 * 1024

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadError は画像の検証エラー
type UploadError struct {
	Code    string
	Message string
}

func (e *UploadError) Error() string {
	return e.Message
}

// ValidateImage は中身から形式を判定する（拡張子やContent-Typeは見ない）。
// 返り値は content type と拡張子。
func ValidateImage(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", &UploadError{Code: "EMPTY_FILE", Message: "image is empty"}
	}
	if len(data) > MaxImageSize {
		return "", "", &UploadError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("image exceeds maximum size of %d MB", MaxImageSize/(1024*1024)),
		}
	}

	mt := mimetype.Detect(data)
	ct := strings.ToLower(mt.String())
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ext, ok := allowedImageTypes[ct]
	if !ok {
		return "", "", &UploadError{
			Code:    "INVALID_FILE_FORMAT",
			Message: fmt.Sprintf("unsupported image type %s (allowed: jpeg, png, webp, gif)", ct),
		}
	}
	return ct, ext, nil
}

// ObjectKey は products/<id>/<uuid><ext>
func ObjectKey(productID int64, ext string) string {
	return fmt.Sprintf("products/%d/%s%s", productID, uuid.NewString(), ext)
}
