// ABOUTME: URL shortener module using the internet capability to call a shortening service.

package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/registry"
)

// DefaultShortenerEndpoint returns the short link as plain text.
const DefaultShortenerEndpoint = "https://is.gd/create.php?format=simple"

// URLShortener shortens links through an external service.
type URLShortener struct{}

type urlShortenerInput struct {
	URL      string `json:"url"`
	Endpoint string `json:"endpoint"`
	Copy     bool   `json:"copy"`
}

// Run shortens input.URL.
func (u *URLShortener) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in urlShortenerInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	long, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || long.Host == "" || (long.Scheme != "http" && long.Scheme != "https") {
		return nil, invalid("url must be an absolute http or https URL")
	}

	endpoint := in.Endpoint
	if endpoint == "" {
		endpoint = DefaultShortenerEndpoint
	}
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, invalid("bad endpoint: %v", err)
	}
	q := target.Query()
	q.Set("url", long.String())
	target.RawQuery = q.Encode()

	var resp hostapi.FetchReply
	if err := callHost(ctx, host, catalog.Internet, hostapi.Request{Op: "fetch", URL: target.String()}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("shortener returned status %d", resp.Status)
	}
	short := strings.TrimSpace(resp.Body)
	if short == "" {
		return nil, fmt.Errorf("shortener returned an empty body")
	}

	copied, copyErr := copyToClipboard(ctx, host, in.Copy, short)
	return json.Marshal(map[string]any{
		"url":        long.String(),
		"short_url":  short,
		"copied":     copied,
		"copy_error": copyErr,
	})
}
