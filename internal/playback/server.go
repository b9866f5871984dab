// Package playback serves finished render artifacts with byte range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrInvalidName is returned for artifact names outside <id>.<mp4|gif>.
var ErrInvalidName = errors.New("invalid artifact name")

var artifactName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}\.(mp4|gif)$`)

var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".gif": "image/gif",
}

// Service serves named artifacts.
type Service interface {
	ServeRender(w http.ResponseWriter, r *http.Request, name string) error
}

// Server serves files from a single renders directory.
type Server struct {
	root   string
	logger *slog.Logger
}

func NewServer(root string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{root: root, logger: logger}
}

// Resolve maps an artifact name to its path under the renders directory.
func (s *Server) Resolve(name string) (string, error) {
	if !artifactName.MatchString(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, name), nil
}

// ServeRender writes the artifact called name, honoring Range and HEAD.
func (s *Server) ServeRender(w http.ResponseWriter, r *http.Request, name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		http.Error(w, "invalid artifact name", http.StatusBadRequest)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	contentType := contentTypes[filepath.Ext(path)]
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	rng, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// A malformed Range header is ignored and the whole file is served.

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return err
	}

	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	h.Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, rng.ContentLength())
	return err
}
