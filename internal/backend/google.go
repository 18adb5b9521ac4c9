package backend

import (
	"context"
	"fmt"
	"os"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleBackend translates batches through the Google Cloud Translation
// API. It is a direct-pair backend: the target language is part of the
// API call, so no hint marker is ever appended.
type GoogleBackend struct {
	credentials string
	sourceLang  string
	targetLang  string
}

func NewGoogleBackend(credentials, sourceLang, targetLang string) *GoogleBackend {
	return &GoogleBackend{
		credentials: credentials,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
	}
}

func (b *GoogleBackend) Name() string {
	return "google"
}

func (b *GoogleBackend) NeedsTargetHint() bool {
	return false
}

func (b *GoogleBackend) Translate(ctx context.Context, batch []string) ([]string, error) {
	targetTag, err := language.Parse(b.targetLang)
	if err != nil {
		return nil, fmt.Errorf("invalid target language: %w", err)
	}

	opts := []option.ClientOption{}
	if b.credentials != "" {
		os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", b.credentials)
		opts = append(opts, option.WithCredentialsFile(b.credentials))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	var translations []translate.Translation
	if b.sourceLang == "" || b.sourceLang == "auto" {
		translations, err = client.Translate(ctx, batch, targetTag, nil)
	} else {
		sourceTag, _ := language.Parse(b.sourceLang)
		translations, err = client.Translate(ctx, batch, targetTag, &translate.Options{
			Source: sourceTag,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("translation failed: %w", err)
	}

	if len(translations) != len(batch) {
		return nil, fmt.Errorf("truncated response: sent %d texts, got %d translations", len(batch), len(translations))
	}

	out := make([]string, len(translations))
	for i, t := range translations {
		out[i] = t.Text
	}
	return out, nil
}

func (b *GoogleBackend) IsAvailable(ctx context.Context) error {
	if b.credentials == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		return fmt.Errorf("no Google Cloud credentials configured")
	}
	return nil
}
