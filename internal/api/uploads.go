package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const uploadsPrefix = "/uploads/"

var (
	errNoImage       = errors.New("image file is required")
	errNotImage      = errors.New("uploaded file is not an image")
	errImageTooLarge = errors.New("image exceeds the upload limit")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload is a received image.
type Upload struct {
	Data     []byte
	MimeType string
	// URL is where the stored copy is served, empty when storage is off.
	URL string
}

// Uploads receives product photos and stores them on local disk.
type Uploads struct {
	dir      string
	maxBytes int64
}

// NewUploads creates an upload receiver. An empty dir disables storage;
// images are still analyzed but not kept.
func NewUploads(dir string, maxBytes int64) *Uploads {
	return &Uploads{dir: dir, maxBytes: maxBytes}
}

// Enabled reports whether uploads are persisted.
func (u *Uploads) Enabled() bool {
	return u.dir != ""
}

// FileServer serves stored uploads.
func (u *Uploads) FileServer() http.Handler {
	return http.FileServer(http.Dir(u.dir))
}

// Receive reads the multipart file field, checks that it is an image and
// stores it.
func (u *Uploads) Receive(w http.ResponseWriter, r *http.Request, field string) (*Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+1<<20)
	if err := r.ParseMultipartForm(u.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errImageTooLarge
		}
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, errNoImage
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return nil, errImageTooLarge
	}
	if len(data) == 0 {
		return nil, errNoImage
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, errNotImage
	}

	up := &Upload{Data: data, MimeType: mimeType}
	if !u.Enabled() {
		return up, nil
	}

	ext, ok := imageExtensions[mimeType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(header.Filename))
	}
	name := uuid.NewString() + ext
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(u.dir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	up.URL = uploadsPrefix + name
	return up, nil
}

func uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errImageTooLarge):
		Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errNoImage), errors.Is(err, errNotImage):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		Error(w, http.StatusBadRequest, "invalid upload")
	}
}
