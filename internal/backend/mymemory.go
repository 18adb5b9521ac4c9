package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MyMemoryBackend is the free last-resort candidate. The API takes one
// string per request, so a batch becomes a GET loop.
type MyMemoryBackend struct {
	email      string
	sourceLang string
	targetLang string
	client     *http.Client
}

func NewMyMemoryBackend(email, sourceLang, targetLang string) *MyMemoryBackend {
	return &MyMemoryBackend{
		email:      email,
		sourceLang: sourceLang,
		targetLang: targetLang,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *MyMemoryBackend) Name() string {
	return "mymemory"
}

func (b *MyMemoryBackend) NeedsTargetHint() bool {
	return false
}

func (b *MyMemoryBackend) Translate(ctx context.Context, batch []string) ([]string, error) {
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

func (b *MyMemoryBackend) translateOne(ctx context.Context, text string) (string, error) {
	sourceLang := b.sourceLang
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = "en"
	}
	langPair := fmt.Sprintf("%s|%s", sourceLang, b.targetLang)

	apiURL := fmt.Sprintf("https://api.mymemory.translated.net/get?q=%s&langpair=%s",
		url.QueryEscape(text),
		url.QueryEscape(langPair))
	if b.email != "" {
		apiURL += fmt.Sprintf("&de=%s", url.QueryEscape(b.email))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var mymemResp struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
		ResponseStatus  int    `json:"responseStatus"`
		ResponseDetails string `json:"responseDetails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mymemResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if mymemResp.ResponseStatus != 200 {
		return "", fmt.Errorf("API error: %s (%d)", mymemResp.ResponseDetails, mymemResp.ResponseStatus)
	}
	return mymemResp.ResponseData.TranslatedText, nil
}

func (b *MyMemoryBackend) IsAvailable(ctx context.Context) error {
	return nil
}
