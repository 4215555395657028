// ABOUTME: Client for a running toolshell server, used by the enablement commands
// ABOUTME: so a change reaches the server's in-memory state instead of only the database.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/toolshell/internal/auth"
	"github.com/2389/toolshell/internal/config"
)

// serverProbeTimeout bounds the health check that decides whether a server is running.
const serverProbeTimeout = 500 * time.Millisecond

type serverClient struct {
	base   string
	token  string
	client *http.Client
}

// enablementResult is the part of the server's enablement responses the CLI reads.
type enablementResult struct {
	Persisted bool     `json:"persisted"`
	Active    []string `json:"active"`
}

// findServer returns a client for the server at server.http_addr, or nil when
// nothing answers its health check.
func findServer(ctx context.Context, cfg *config.Config) (*serverClient, error) {
	sc := &serverClient{
		base:   "http://" + cfg.Server.HTTPAddr,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	probeCtx, cancel := context.WithTimeout(ctx, serverProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, sc.base+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, err
		}
		if sc.token, err = verifier.Generate("cli", time.Minute, auth.ScopeWrite); err != nil {
			return nil, fmt.Errorf("generating token: %w", err)
		}
	}
	return sc, nil
}

// post sends a write request and decodes the enablement fields of the reply.
func (sc *serverClient) post(ctx context.Context, path string) (enablementResult, error) {
	var out enablementResult
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.base+path, nil)
	if err != nil {
		return out, fmt.Errorf("creating request: %w", err)
	}
	if sc.token != "" {
		req.Header.Set("Authorization", "Bearer "+sc.token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return out, fmt.Errorf("server: %s", apiErr.Error)
		}
		return out, fmt.Errorf("server: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

func modulePath(id, action string) string {
	return "/api/modules/" + url.PathEscape(id) + "/" + action
}
