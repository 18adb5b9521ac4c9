package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valpere/epubtran/internal/postprocess"
)

// OllamaBackend translates through a self-hosted LLM. The generate API is
// single-prompt, so a batch becomes one call per item; the prompt carries
// the language pair, so no hint marker is needed.
type OllamaBackend struct {
	baseURL    string
	model      string
	sourceLang string
	targetLang string
	client     *http.Client
}

func NewOllamaBackend(baseURL, model, sourceLang, targetLang string) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaBackend{
		baseURL:    baseURL,
		model:      model,
		sourceLang: sourceLang,
		targetLang: targetLang,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *OllamaBackend) Name() string {
	return "ollama"
}

func (b *OllamaBackend) NeedsTargetHint() bool {
	return false
}

func (b *OllamaBackend) Translate(ctx context.Context, batch []string) ([]string, error) {
	out := make([]string, len(batch))
	for i, text := range batch {
		translated, err := b.translateOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = translated
	}
	return out, nil
}

func (b *OllamaBackend) translateOne(ctx context.Context, text string) (string, error) {
	sourceLang := b.sourceLang
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = "detect"
	}

	prompt := fmt.Sprintf(`Translate the following text from %s to %s.
Only respond with the translation, nothing else.

Text: "%s"

Translation:`, sourceLang, b.targetLang, text)

	ollamaReq := map[string]interface{}{
		"model":  b.model,
		"prompt": prompt,
		"stream": false,
	}

	jsonData, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/generate", b.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return postprocess.Clean(ollamaResp.Response), nil
}

func (b *OllamaBackend) IsAvailable(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/tags", b.baseURL), nil)
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}
	return nil
}
