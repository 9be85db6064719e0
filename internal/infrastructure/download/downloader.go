package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Downloader fetches media bytes for queue items. Some webhook-testing
// endpoints answer with an HTML interstitial carrying a meta-refresh/JS
// redirect instead of a real HTTP redirect; Downloader resolves exactly one
// such hop.
type Downloader struct {
	httpClient *http.Client
}

func New(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// refreshURLPattern matches url='...' / url="..." inside meta-refresh tags and
// inline JS redirects.
var refreshURLPattern = regexp.MustCompile(`url=['"]([^'"]+)['"]`)

func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := d.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if redirect := htmlRedirectTarget(data); redirect != "" {
		data, err = d.get(ctx, redirect)
		if err != nil {
			return nil, fmt.Errorf("follow html redirect: %w", err)
		}
	}
	return data, nil
}

func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download media status: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

// htmlRedirectTarget returns the single-hop redirect URL when the payload is an
// HTML document instead of binary content, or "" otherwise. Only the first
// ~2000 bytes are scanned.
func htmlRedirectTarget(data []byte) string {
	if len(data) == 0 || data[0] != '<' {
		return ""
	}
	head := data
	if len(head) > 2000 {
		head = head[:2000]
	}
	match := refreshURLPattern.FindSubmatch(head)
	if match == nil {
		return ""
	}
	return string(match[1])
}
