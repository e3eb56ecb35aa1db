// Package blob stores uploaded files in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Store is the subset of object storage the API needs.
type Store interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, name string) (Object, error)
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

type Object struct {
	Data        []byte
	ContentType string
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxNameLength = 120

// SanitizeName turns a client-supplied file name into a safe single path segment.
func SanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	cleaned := strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._")
	if cleaned == "" {
		return "file"
	}
	if len(cleaned) > maxNameLength {
		ext := path.Ext(cleaned)
		if len(ext) > 16 {
			ext = ""
		}
		cleaned = cleaned[:maxNameLength-len(ext)] + ext
	}
	return cleaned
}

// ObjectName builds the blob path for a user's upload.
func ObjectName(userID, fileID, fileName string) string {
	return userID + "/" + fileID + "/" + SanitizeName(fileName)
}
