package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultMarianModels is the built-in English→Portuguese fallback chain,
// best quality first. The romance model is multilingual and needs a
// target-language hint on every input.
var DefaultMarianModels = []MarianModel{
	{Name: "opus-mt-tc-big-en-pt"},
	{Name: "opus-mt-en-pt"},
	{Name: "opus-mt-en-romance", NeedsTargetHint: true},
}

// MarianModel names one model served by an OPUS-MT bridge and declares
// whether it needs a target-language hint.
type MarianModel struct {
	Name            string
	NeedsTargetHint bool
}

// MarianBackend talks to a local OPUS-MT inference server over HTTP. The
// server exposes a batch endpoint: POST /translate with a model name and
// an ordered list of texts, answering with the translations in order.
type MarianBackend struct {
	baseURL   string
	model     string
	needsHint bool
	client    *http.Client
}

func NewMarianBackend(baseURL, model string, needsTargetHint bool) *MarianBackend {
	if baseURL == "" {
		baseURL = "http://localhost:8880"
	}
	return &MarianBackend{
		baseURL:   baseURL,
		model:     model,
		needsHint: needsTargetHint,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *MarianBackend) Name() string {
	return b.model
}

func (b *MarianBackend) NeedsTargetHint() bool {
	return b.needsHint
}

func (b *MarianBackend) Translate(ctx context.Context, batch []string) ([]string, error) {
	payload := map[string]interface{}{
		"model": b.model,
		"texts": batch,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/translate", b.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var marianResp struct {
		Translations []string `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&marianResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(marianResp.Translations) != len(batch) {
		return nil, fmt.Errorf("truncated response: sent %d texts, got %d translations", len(batch), len(marianResp.Translations))
	}
	return marianResp.Translations, nil
}

func (b *MarianBackend) IsAvailable(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/models", b.baseURL), nil)
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("OPUS-MT server not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OPUS-MT server returned status %d", resp.StatusCode)
	}
	return nil
}
