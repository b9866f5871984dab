package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	maxMediaBytes   = 64 << 20
	mediaFetchLimit = 30 * time.Second
)

// MediaLoader resolves layer sources into images.
type MediaLoader interface {
	Image(ctx context.Context, src string) (image.Image, error)
	VideoFrame(ctx context.Context, src string, atMs float64) (image.Image, error)
}

type mediaEntry struct {
	img image.Image
	err error
}

// FileMediaLoader loads local files, file:// and http(s) URLs, caching
// results (including failures) for the lifetime of the loader. Video frames
// are extracted with ffmpeg at whole second granularity.
type FileMediaLoader struct {
	baseDir    string
	ffmpegPath string
	client     *http.Client

	mu    sync.Mutex
	cache map[string]mediaEntry
}

// NewFileMediaLoader creates a loader resolving relative paths against baseDir.
func NewFileMediaLoader(baseDir, ffmpegPath string) *FileMediaLoader {
	return &FileMediaLoader{
		baseDir:    baseDir,
		ffmpegPath: ffmpegPath,
		client:     &http.Client{Timeout: mediaFetchLimit},
		cache:      make(map[string]mediaEntry),
	}
}

func (l *FileMediaLoader) Image(ctx context.Context, src string) (image.Image, error) {
	return l.cached(src, func() (image.Image, error) {
		data, err := l.read(ctx, src)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", src, err)
		}
		return img, nil
	})
}

func (l *FileMediaLoader) VideoFrame(ctx context.Context, src string, atMs float64) (image.Image, error) {
	sec := int(atMs / 1000)
	key := fmt.Sprintf("%s#t=%d", src, sec)
	return l.cached(key, func() (image.Image, error) {
		if l.ffmpegPath == "" {
			return nil, fmt.Errorf("no ffmpeg available to extract frames from %s", src)
		}
		input := src
		if !isRemote(src) {
			input = l.localPath(src)
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, l.ffmpegPath,
			"-v", "error",
			"-ss", fmt.Sprintf("%d", sec),
			"-i", input,
			"-frames:v", "1",
			"-f", "image2pipe",
			"-vcodec", "png",
			"-",
		)
		cmd.Stdout = &stdout
		cmd.Stderr = &limitedWriter{w: &stderr, limit: 1024}
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("extract frame from %s: %w: %s", src, err, strings.TrimSpace(stderr.String()))
		}
		img, _, err := image.Decode(&stdout)
		if err != nil {
			return nil, fmt.Errorf("decode frame from %s: %w", src, err)
		}
		return img, nil
	})
}

func (l *FileMediaLoader) cached(key string, load func() (image.Image, error)) (image.Image, error) {
	l.mu.Lock()
	if e, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return e.img, e.err
	}
	l.mu.Unlock()

	img, err := load()

	l.mu.Lock()
	l.cache[key] = mediaEntry{img: img, err: err}
	l.mu.Unlock()
	return img, err
}

func (l *FileMediaLoader) read(ctx context.Context, src string) ([]byte, error) {
	if src == "" {
		return nil, fmt.Errorf("empty media source")
	}
	if !isRemote(src) {
		data, err := os.ReadFile(l.localPath(src))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", src, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("fetch %s: exceeds %d bytes", src, maxMediaBytes)
	}
	return data, nil
}

func (l *FileMediaLoader) localPath(src string) string {
	if u, err := url.Parse(src); err == nil && u.Scheme == "file" {
		return u.Path
	}
	if filepath.IsAbs(src) || l.baseDir == "" {
		return src
	}
	return filepath.Join(l.baseDir, src)
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}
