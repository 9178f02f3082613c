package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Store persists exported reports and edited images.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	// URL returns a link to the object, or "" when the backend cannot serve links.
	URL(ctx context.Context, key string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

// Object is one stored artifact.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// ReportKey is where the exported HTML report of a run lives.
func ReportKey(runID, fileName string) string {
	return path.Join("reports", cleanSegment(runID), cleanSegment(fileName))
}

// ImageKey is where an edited image lives.
func ImageKey(id, mimeType string) string {
	return path.Join("images", cleanSegment(id)+extFor(mimeType))
}

func cleanSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func extFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func validate(obj Object) (Object, error) {
	obj.Key = strings.TrimLeft(strings.TrimSpace(obj.Key), "/")
	if obj.Key == "" {
		return Object{}, fmt.Errorf("artifact: key is required")
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	if obj.Data == nil {
		obj.Data = []byte{}
	}
	return obj, nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("artifact: key is required")
	}
	return key, nil
}
