// Package attachment validates, normalizes and stages files attached to a
// chat message, either locally until submission or uploaded to object
// storage under a destination context.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kinber/kinber/internal/backend"
	"github.com/kinber/kinber/internal/models"
	"golang.org/x/text/unicode/norm"
)

// MaxBytes is the largest attachment accepted. A file of exactly MaxBytes is
// accepted.
const MaxBytes int64 = 50 << 20

// DefaultType is used when no MIME type is known.
const DefaultType = "application/octet-stream"

// ErrEncoding means an inline payload could not be produced. The attachment
// stays usable through its URL.
var ErrEncoding = errors.New("attachment: inline encoding failed")

// ErrTooLarge rejects a file above MaxBytes.
var ErrTooLarge = errors.New("attachment: file exceeds size limit")

// File is a file offered for attachment.
type File struct {
	Name string
	Size int64
	Type string // optional; detected from content when empty
	Open func() (io.ReadCloser, error)
}

// FromPath describes a file on disk.
func FromPath(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("attachment: %w", err)
	}
	if st.IsDir() {
		return File{}, fmt.Errorf("attachment: %s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: st.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromBytes describes an in-memory file.
func FromBytes(name, mime string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Type: mime,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// Attachment is a staged file.
type Attachment struct {
	Name      string
	URL       string // public URL, or a blob: reference in local-only mode
	Path      string // object path when uploaded
	Size      int64
	Type      string
	Local     bool
	Inline    string // data URI; empty when InlineErr is set
	InlineErr error
}

// Ref is the persisted form of the attachment.
func (a Attachment) Ref() models.AttachmentRef {
	return models.AttachmentRef{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size}
}

// Payload is the descriptor sent to the agent backend. An attachment whose
// inline encoding failed is forwarded without a payload.
func (a Attachment) Payload() backend.AttachmentPayload {
	p := backend.AttachmentPayload{Name: a.Name, URL: a.URL, Type: a.Type, Size: a.Size}
	if a.InlineErr == nil {
		p.Base64 = EnsureDataURI(a.Inline, a.Type)
	}
	return p
}

// Validate checks a size against MaxBytes.
func Validate(size int64) error {
	if size > MaxBytes {
		return ErrTooLarge
	}
	return nil
}

// NormalizeName returns the NFC form of the base name, so names typed on
// different systems compare equal.
func NormalizeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	return norm.NFC.String(name)
}

// DetectType returns given when set, otherwise sniffs r.
func DetectType(given string, r io.Reader) string {
	if given = strings.TrimSpace(given); given != "" {
		return given
	}
	if r == nil {
		return DefaultType
	}
	mt, err := mimetype.DetectReader(r)
	if err != nil || mt == nil {
		return DefaultType
	}
	return mt.String()
}

// EncodeInline reads r fully and returns a base64 data URI. Empty input and
// read errors return ErrEncoding.
func EncodeInline(r io.Reader, mime string) (string, error) {
	if r == nil {
		return "", ErrEncoding
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty content", ErrEncoding)
	}
	return EnsureDataURI(base64.StdEncoding.EncodeToString(data), mime), nil
}

// EnsureDataURI prefixes a bare base64 payload with a data URI header. A
// payload that already is a data URI is returned unchanged.
func EnsureDataURI(payload, mime string) string {
	if payload == "" || strings.HasPrefix(payload, "data:") {
		return payload
	}
	if mime == "" {
		mime = DefaultType
	}
	return "data:" + mime + ";base64," + payload
}
