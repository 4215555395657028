// ABOUTME: Internet capability provider performing HTTP requests for modules.
// ABOUTME: Refuses non-public destinations and enforces an allowlist, a timeout, a size cap and a rate limit.

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

// ErrHostNotAllowed indicates the target host is outside the allowlist or resolves
// to a loopback, private, link-local or unspecified address.
var ErrHostNotAllowed = errors.New("host not allowed")

// ErrRateLimited indicates a module exceeded its request budget.
var ErrRateLimited = errors.New("rate limited")

const (
	defaultFetchTimeout = 10 * time.Second
	defaultMaxBody      = 1 << 20
	defaultRPS          = 2
	defaultBurst        = 5
	maxRedirects        = 10
)

// cgnat is the shared address space used by carrier NAT and tailnets.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// InternetOptions configures a Fetcher.
type InternetOptions struct {
	Timeout      time.Duration
	AllowedHosts []string // empty allows every public host
	MaxBodyBytes int64
	RPS          float64
	Burst        int

	// AllowPrivateNetworks permits loopback, private and link-local destinations.
	// The shell's own API listens on loopback, so this stays off outside tests.
	AllowPrivateNetworks bool
}

// Fetcher implements the fetch op.
type Fetcher struct {
	client       *http.Client
	allowed      []string
	allowPrivate bool
	maxBody      int64

	mu       sync.Mutex
	limiters map[manifest.ID]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// FetchReply is the result of a fetch.
type FetchReply struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts InternetOptions) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	allowed := make([]string, 0, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed = append(allowed, h)
		}
	}
	f := &Fetcher{
		allowed:      allowed,
		allowPrivate: opts.AllowPrivateNetworks,
		maxBody:      maxBody,
		limiters:     make(map[manifest.ID]*rate.Limiter),
		rps:          rate.Limit(rps),
		burst:        burst,
	}

	// The dialer sees the resolved address, so a public name pointing at a private
	// address is refused as well. Proxies are disabled since they would hide the target.
	dialer := &net.Dialer{Timeout: timeout, Control: f.checkDial}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	f.client = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// Handle implements fetch.
func (f *Fetcher) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	req, err := DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	if req.Op != "fetch" {
		return nil, unsupported(catalog.Internet, req.Op)
	}

	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", ErrBadRequest, req.URL)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrBadRequest, target.Scheme)
	}
	if err := f.checkHost(target.Hostname()); err != nil {
		return nil, err
	}
	if !f.limiter(moduleID).Allow() {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, moduleID)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: method %q", ErrBadRequest, req.Method)
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	httpReq.Header.Set("User-Agent", "toolshell/"+string(moduleID))

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	out := FetchReply{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if int64(len(data)) > f.maxBody {
		data = data[:f.maxBody]
		out.Truncated = true
	}
	out.Body = string(data)
	return reply(out)
}

// checkHost applies the allowlist and refuses literal non-public addresses early.
// Names are checked again after resolution by checkDial.
func (f *Fetcher) checkHost(host string) error {
	if !f.hostAllowed(host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	if f.allowPrivate {
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && !publicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to scheme %q", ErrBadRequest, req.URL.Scheme)
	}
	return f.checkHost(req.URL.Hostname())
}

func (f *Fetcher) checkDial(network, address string, _ syscall.RawConn) error {
	if f.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// publicAddr reports whether addr is routable on the public internet.
func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		cgnat.Contains(addr):
		return false
	}
	return true
}

func (f *Fetcher) hostAllowed(host string) bool {
	if len(f.allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, a := range f.allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func (f *Fetcher) limiter(id manifest.ID) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[id]
	if !ok {
		l = rate.NewLimiter(f.rps, f.burst)
		f.limiters[id] = l
	}
	return l
}
