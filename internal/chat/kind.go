package chat

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

const defaultKind = "application/octet-stream"

// KindFromURL guesses an attachment's MIME type from the extension of its URL path.
func KindFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return defaultKind
	}
	kind := mime.TypeByExtension(ext)
	if kind == "" {
		return defaultKind
	}
	if i := strings.IndexByte(kind, ';'); i >= 0 {
		kind = kind[:i]
	}
	return kind
}

// IsImage reports whether kind names an image type.
func IsImage(kind string) bool {
	return strings.HasPrefix(kind, "image/")
}
