// ABOUTME: Card artwork store for the device renderer
// ABOUTME: Saves pushed image cards and downloads images referenced by templates
package artwork

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// maxImageSize caps downloaded artwork
const maxImageSize = 4 << 20

// Store caches card artwork on disk
type Store struct {
	dir    string
	client *http.Client

	mu          sync.Mutex
	currentPath string
}

// NewStore creates a store under dir; empty dir uses the temp directory
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "avslink-artwork")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artwork directory: %w", err)
	}

	return &Store{
		dir:    dir,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Handle stores the artwork a card carries or references.
// Returns "" for cards without artwork.
func (s *Store) Handle(ctx context.Context, c protocol.Card) (string, error) {
	if c.Type.IsImage() {
		return s.SaveImage(c)
	}
	url := ImageURL(c)
	if url == "" {
		return "", nil
	}
	return s.Download(ctx, url)
}

// SaveImage writes an image card to the store, keyed by content
func (s *Store) SaveImage(c protocol.Card) (string, error) {
	if !c.Type.IsImage() {
		return "", fmt.Errorf("card %s is not an image", c.Type)
	}
	ext := ".png"
	if c.Type == protocol.CardImageJPG {
		ext = ".jpg"
	}
	path := s.path(c.Payload, ext)
	if s.cached(path) {
		return path, nil
	}
	if err := os.WriteFile(path, c.Payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to save card image: %w", err)
	}
	log.Debug().Str("path", path).Int("bytes", len(c.Payload)).Msg("card image saved")
	s.setCurrent(path)
	return path, nil
}

// Download fetches artwork from url and saves it, keyed by url
func (s *Store) Download(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}

	path := s.path([]byte(url), getExtension(url))
	if s.cached(path) {
		log.Debug().Str("path", path).Msg("artwork cache hit")
		return path, nil
	}

	log.Debug().Str("url", url).Msg("downloading artwork")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("bad artwork url: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artwork file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxImageSize+1))
	if err == nil && n > maxImageSize {
		err = errors.New("image too large")
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	log.Debug().Str("path", path).Int64("bytes", n).Msg("artwork saved")
	s.setCurrent(path)
	return path, nil
}

// CurrentPath returns the most recently stored artwork
func (s *Store) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// Cleanup removes the store directory
func (s *Store) Cleanup() error {
	return os.RemoveAll(s.dir)
}

func (s *Store) path(key []byte, ext string) string {
	hash := sha256.Sum256(key)
	return filepath.Join(s.dir, fmt.Sprintf("%x%s", hash[:8], ext))
}

func (s *Store) cached(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	s.setCurrent(path)
	return true
}

func (s *Store) setCurrent(path string) {
	s.mu.Lock()
	s.currentPath = path
	s.mu.Unlock()
}

// ImageURL finds the first image source in a template or player info card.
// Templates carry image.sources[].url; player info carries content.art.sources[].url.
func ImageURL(c protocol.Card) string {
	fields, err := c.Fields()
	if err != nil {
		return ""
	}
	if url := sourceURL(fields["image"]); url != "" {
		return url
	}
	if content, ok := fields["content"].(map[string]any); ok {
		if url := sourceURL(content["art"]); url != "" {
			return url
		}
	}
	return sourceURL(fields["art"])
}

func sourceURL(v any) string {
	img, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	sources, _ := img["sources"].([]any)
	for _, src := range sources {
		m, ok := src.(map[string]any)
		if !ok {
			continue
		}
		if url, ok := m["url"].(string); ok && url != "" {
			return url
		}
	}
	return ""
}

// getExtension extracts the file extension from url
func getExtension(url string) string {
	url = strings.Split(url, "?")[0]

	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	return ext
}
