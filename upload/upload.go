// Package upload resolves file blobs to URLs for media messages.
package upload

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"crm-chat/backend/models"

	"golang.org/x/crypto/blake2b"
)

// Blob is a file submitted by a client.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// File is a stored blob opened for reading. Callers close Body.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Store is the file-upload collaborator: store(blob) -> url.
type Store interface {
	Store(ctx context.Context, blob Blob) (string, error)
	Open(ctx context.Context, id string) (File, error)
}

// prepare validates blob and fills in its content type.
func prepare(blob *Blob, maxBytes int64) error {
	if len(blob.Data) == 0 {
		return models.NewError(models.CodeValidation, "file is empty")
	}
	if maxBytes > 0 && int64(len(blob.Data)) > maxBytes {
		return models.NewError(models.CodeValidation, "file exceeds %d bytes", maxBytes)
	}
	if blob.ContentType == "" {
		blob.ContentType = http.DetectContentType(blob.Data)
	}
	return nil
}

// contentName is the storage name of a blob: the blake2b-256 of its bytes
// plus the original extension. Identical uploads share one name.
func contentName(blob Blob) string {
	sum := blake2b.Sum256(blob.Data)
	ext := strings.ToLower(filepath.Ext(blob.Name))
	if len(ext) > 10 {
		ext = ""
	}
	return hex.EncodeToString(sum[:]) + ext
}

func fileURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/files/" + id
}

// TypeFor guesses the message type of an upload from its content type.
func TypeFor(contentType string) models.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MessageImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MessageVideo
	case strings.HasPrefix(contentType, "audio/"):
		return models.MessageAudio
	}
	return models.MessageFile
}

// Inline reports whether a stored file may be rendered by the browser.
// Only image, video and audio types qualify; SVG can carry script.
func Inline(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if base == "image/svg+xml" {
		return false
	}
	return TypeFor(base) != models.MessageFile
}
