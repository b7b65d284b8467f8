// Package attachment validates files before they are attached to an outgoing message.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/comigor/chatsync-go/internal/chat"
)

// MaxSize is the largest accepted file, inclusive.
const MaxSize int64 = 5 * 1024 * 1024

// allowed is matched exactly and case-sensitively against File.Type.
var allowed = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/jpg":       {},
}

var (
	// ErrRejected matches every validation failure.
	ErrRejected    = errors.New("attachment rejected")
	ErrInvalidType = fmt.Errorf("%w: invalid type", ErrRejected)
	ErrTooLarge    = fmt.Errorf("%w: too large", ErrRejected)
)

// File is a candidate attachment. Open is called once per read and may be nil for files whose
// content is held in Data.
type File struct {
	Name string
	Type string
	Size int64
	Data []byte
	Open func() (io.ReadCloser, error)
}

// Reader opens the file content.
func (f File) Reader() (io.ReadCloser, error) {
	if f.Open != nil {
		return f.Open()
	}
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// Validate checks type and size. Type is checked first.
func Validate(f File) (File, error) {
	if _, ok := allowed[f.Type]; !ok {
		return File{}, fmt.Errorf("%w: %q", ErrInvalidType, f.Type)
	}
	if f.Size > MaxSize {
		return File{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, f.Size, MaxSize)
	}
	return f, nil
}

// Preview reads an image file on its own goroutine and hands its data URL to fn. Non-image files
// are ignored. fn is not called once ctx is done.
func Preview(ctx context.Context, f File, fn func(dataURL string)) {
	if !chat.IsImage(f.Type) || fn == nil {
		return
	}
	go func() {
		url, err := DataURL(f)
		if err != nil || ctx.Err() != nil {
			return
		}
		fn(url)
	}()
}

// DataURL encodes the file content as a base64 data URL.
func DataURL(f File) (string, error) {
	rc, err := f.Reader()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(f.Type)
	b.WriteString(";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &b)
	if _, err := io.Copy(enc, rc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// FromPath describes a file on disk. Its type is resolved from the extension; the content is
// read lazily.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	kind := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(kind, ';'); i >= 0 {
		kind = kind[:i]
	}
	return File{
		Name: filepath.Base(path),
		Type: kind,
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
