package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dotsetgreg/dotconnect/pkg/config"
)

func TestHTTPProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "test/model" {
			t.Errorf("unexpected model %v", body["model"])
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"content": "hello there"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider("sk-test", srv.URL, "")
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "test/model", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 13 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestHTTPProvider_ChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	p := NewHTTPProvider("sk-test", srv.URL, "")
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateProvider_RequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := CreateProvider(cfg); err == nil {
		t.Fatal("expected error without api key")
	}

	cfg.Providers.OpenRouter.APIKey = "sk-test"
	p, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if p.GetDefaultModel() == "" {
		t.Fatal("default model should not be empty")
	}
}

func TestCreateProvider_RejectsUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "sk-test"
	cfg.Agents.Defaults.Provider = "anthropic"

	if _, err := CreateProvider(cfg); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
