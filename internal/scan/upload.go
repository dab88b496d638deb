package scan

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes is the largest accepted upload.
const DefaultMaxBytes int64 = 5 << 20

// Validation messages.
const (
	MsgInvalidType = "Invalid file type. Please upload a CSV file."
	MsgTooLarge    = "File is too large. Maximum size is 5MB."
	MsgNoFile      = "Please upload a file first"
)

// csvTypes are the media types accepted as CSV. Browsers on Windows report
// CSV files as the Excel type.
var csvTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"application/vnd.ms-excel": true,
}

// Upload is a file picked for scanning.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// ValidationError is a local, recoverable problem with the user's input. It
// never touches the network or the cache.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsCSV reports whether contentType names a CSV media type. Parameters such
// as charset are ignored.
func IsCSV(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return csvTypes[strings.ToLower(mt)]
}

func validate(u Upload, maxBytes int64) error {
	if !IsCSV(u.ContentType) {
		return &ValidationError{Message: MsgInvalidType}
	}
	if u.Size > maxBytes {
		return &ValidationError{Message: MsgTooLarge}
	}
	return nil
}

// ContentTypeFor guesses a media type from the file extension, for uploads
// whose sender did not declare one.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if ext == ".csv" {
		return "text/csv"
	}
	return ""
}

// OpenUpload reads a local file as an Upload, inferring its content type from
// the extension. Files over maxBytes are not read; Select rejects them.
func OpenUpload(path string, maxBytes int64) (Upload, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Upload{}, fmt.Errorf("stat upload: %w", err)
	}
	if fi.IsDir() {
		return Upload{}, fmt.Errorf("%s is a directory", path)
	}
	u := Upload{
		Name:        filepath.Base(path),
		ContentType: ContentTypeFor(path),
		Size:        fi.Size(),
	}
	if u.Size > maxBytes || !IsCSV(u.ContentType) {
		return u, nil
	}
	u.Data, err = os.ReadFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	u.Size = int64(len(u.Data))
	return u, nil
}
