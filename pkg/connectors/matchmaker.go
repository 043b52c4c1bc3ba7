package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/intent"
)

// MatchmakerClient talks to the introduction-matching service.
type MatchmakerClient struct {
	apiBase    string
	apiKey     string
	httpClient *http.Client
}

func NewMatchmakerClient(cfg config.MatchmakerConfig) *MatchmakerClient {
	return &MatchmakerClient{
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestIntroduction asks for the best available match for userID.
// An empty message means no suitable match exists right now.
func (m *MatchmakerClient) RequestIntroduction(ctx context.Context, userID string) (intent.Introduction, error) {
	if m.apiBase == "" {
		return intent.Introduction{}, fmt.Errorf("matchmaker API base not configured")
	}

	jsonData, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return intent.Introduction{}, fmt.Errorf("marshal introduction request: %w", err)
	}

	body, err := m.do(ctx, http.MethodPost, "/introductions", jsonData)
	if err != nil {
		return intent.Introduction{}, err
	}

	var out struct {
		MatchID string `json:"match_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return intent.Introduction{}, fmt.Errorf("decode introduction response: %w", err)
	}
	return intent.Introduction{MatchID: out.MatchID, Message: out.Message}, nil
}

// StoredIntroduction fetches the introduction text recorded for a match.
func (m *MatchmakerClient) StoredIntroduction(ctx context.Context, matchID string) (string, error) {
	body, err := m.do(ctx, http.MethodGet, "/introductions/"+url.PathEscape(matchID), nil)
	if err != nil {
		return "", err
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode stored introduction: %w", err)
	}
	return out.Message, nil
}

// MarkDelivered records that the user accepted and received the match.
func (m *MatchmakerClient) MarkDelivered(ctx context.Context, matchID string) error {
	_, err := m.do(ctx, http.MethodPost, "/introductions/"+url.PathEscape(matchID)+"/delivered", nil)
	return err
}

func (m *MatchmakerClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.apiBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create matchmaker request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send matchmaker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read matchmaker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("matchmaker status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
