package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMarianBackend_Translate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var req struct {
			Model string   `json:"model"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "opus-mt-en-pt" {
			t.Errorf("model = %q, want opus-mt-en-pt", req.Model)
		}

		out := make([]string, len(req.Texts))
		for i := range req.Texts {
			out[i] = "translated:" + req.Texts[i]
		}
		json.NewEncoder(w).Encode(map[string][]string{"translations": out})
	}))
	defer server.Close()

	b := NewMarianBackend(server.URL, "opus-mt-en-pt", false)

	got, err := b.Translate(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(got) != 2 || got[0] != "translated:one" || got[1] != "translated:two" {
		t.Errorf("unexpected translations: %v", got)
	}
}

func TestMarianBackend_TruncatedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"translations": {"only one"}})
	}))
	defer server.Close()

	b := NewMarianBackend(server.URL, "opus-mt-en-pt", false)
	if _, err := b.Translate(context.Background(), []string{"one", "two"}); err == nil {
		t.Error("expected error for truncated response")
	}
}

func TestMarianBackend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	b := NewMarianBackend(server.URL, "opus-mt-en-pt", false)
	if _, err := b.Translate(context.Background(), []string{"one"}); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestMarianBackend_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := NewMarianBackend(server.URL, "opus-mt-en-pt", false)
	if err := b.IsAvailable(context.Background()); err != nil {
		t.Errorf("IsAvailable failed against healthy server: %v", err)
	}

	server.Close()
	if err := b.IsAvailable(context.Background()); err == nil {
		t.Error("expected error once server is down")
	}
}

func TestDefaultMarianModels(t *testing.T) {
	if len(DefaultMarianModels) != 3 {
		t.Fatalf("expected 3 default models, got %d", len(DefaultMarianModels))
	}
	if DefaultMarianModels[0].Name != "opus-mt-tc-big-en-pt" {
		t.Errorf("best model first, got %q", DefaultMarianModels[0].Name)
	}
	last := DefaultMarianModels[len(DefaultMarianModels)-1]
	if !last.NeedsTargetHint {
		t.Error("multilingual fallback model must need a target hint")
	}
}
