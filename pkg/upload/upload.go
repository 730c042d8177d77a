// Package upload handles attachment staging for the realtime feed.
//
// Clients upload event banners and report study files over HTTP before
// sending the message that references them. The upload returns a temp
// id; the message handler claims the temp id, which consumes the staged
// file and yields its final URL. Unclaimed files expire and are swept.
package upload

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when a temp id does not exist or was already
// claimed.
var ErrNotFound = errors.New("upload: attachment not found")

// ErrTooLarge is returned when an attachment exceeds the size limit.
var ErrTooLarge = errors.New("upload: attachment too large")

// ErrBadType is returned when an attachment's MIME type is not allowed.
var ErrBadType = errors.New("upload: content type not allowed")

// Store stages uploaded attachments until a message claims them.
type Store interface {
	// Save stages an attachment and returns its temp id.
	Save(filename, contentType string, size int64, r io.Reader) (tempID string, err error)

	// Claim consumes a staged attachment. After a successful claim the
	// temp id is gone; a second claim returns ErrNotFound.
	Claim(tempID string) (*File, error)

	// Cleanup removes staged attachments older than maxAge.
	Cleanup(maxAge time.Duration) error
}

// File is a claimed attachment.
type File struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64

	// Path is set by the disk store, URL by the S3 store.
	Path string
	URL  string

	Reader io.ReadCloser
}

// Close releases the attachment's reader if one is open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

// Config bounds what the HTTP handler accepts.
type Config struct {
	// MaxFileSize in bytes. Default 10MB.
	MaxFileSize int64

	// AllowedTypes is a list of MIME type prefixes, e.g. "image/" or
	// "application/pdf". Empty allows everything.
	AllowedTypes []string

	// TempExpiry is how long staged files live unclaimed. Default 1h.
	TempExpiry time.Duration
}

// DefaultConfig returns the limits used for banners and study files.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:  10 * 1024 * 1024,
		AllowedTypes: []string{"image/", "application/pdf"},
		TempExpiry:   time.Hour,
	}
}

func (c *Config) typeAllowed(contentType string) bool {
	if len(c.AllowedTypes) == 0 {
		return true
	}
	for _, prefix := range c.AllowedTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the attachment upload endpoint. Mount it with
// r.Post("/upload", upload.Handler(store)). It expects a multipart form
// with a "file" field and answers {"temp_id": "..."}.
func Handler(store Store) http.Handler {
	return HandlerWithConfig(store, DefaultConfig())
}

// HandlerWithConfig is Handler with explicit limits.
func HandlerWithConfig(store Store, config *Config) http.Handler {
	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Cap the body before parsing so an oversized upload is
		// rejected without buffering it.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "attachment too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if !config.typeAllowed(contentType) {
			http.Error(w, "content type not allowed", http.StatusUnsupportedMediaType)
			return
		}

		tempID, err := store.Save(header.Filename, contentType, header.Size, file)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				http.Error(w, "attachment too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "upload failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"temp_id": tempID})
	})
}
