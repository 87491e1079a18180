package layer

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // decoder
	_ "image/jpeg" // decoder
	_ "image/png"  // decoder
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/webp" // decoder
)

// maxImageBytes bounds a downloaded overlay image.
const maxImageBytes = 32 << 20

// ImageSource fetches and decodes overlay images.
type ImageSource interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// Loader reads images from local paths, file:// URLs and http(s) URLs.
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader whose HTTP fetches time out after timeout.
func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Loader{client: &http.Client{Timeout: timeout}}
}

// Load fetches ref and decodes it as PNG, JPEG, GIF or WebP.
func (l *Loader) Load(ctx context.Context, ref string) (image.Image, error) {
	rc, err := l.open(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrImageLoadFailed, ref, err)
	}
	defer rc.Close()
	img, format, err := image.Decode(io.LimitReader(rc, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %w", ErrImageLoadFailed, ref, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: %s: empty %s image", ErrImageLoadFailed, ref, format)
	}
	return img, nil
}

func (l *Loader) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty image reference")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path; a one-letter scheme is a Windows drive
		return os.Open(ref)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("http status %d", resp.StatusCode)
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}
