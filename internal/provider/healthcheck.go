package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpCheck is a zero-token HealthChecker that lists the backend's models.
type httpCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck issues the probe request and expects a 2xx response.
func (h *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a HealthChecker for backends with a free model
// listing endpoint, or nil when the backend has none (Ark).
func NewHealthCheck(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 10 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		host := cfg.Ollama.Host
		if host == "" {
			host = DefaultOllamaHost
		}
		return &httpCheck{url: strings.TrimRight(host, "/") + "/api/tags", client: client}
	case BackendOpenAI:
		return &httpCheck{
			url:    "https://api.openai.com/v1/models",
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		az := cfg.AzureOpenAI
		return &httpCheck{
			url:    strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + url.QueryEscape(az.APIVersion),
			header: http.Header{"Api-Key": {az.APIKey}},
			client: client,
		}
	case BackendGemini:
		return &httpCheck{
			url:    "https://generativelanguage.googleapis.com/v1beta/models?key=" + url.QueryEscape(cfg.Gemini.APIKey),
			client: client,
		}
	}
	return nil
}
