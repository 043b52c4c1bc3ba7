// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

// VoiceDialer places outbound voice calls through a hosted voice-agent API.
type VoiceDialer struct {
	apiBase       string
	apiKey        string
	assistantID   string
	phoneNumberID string
	httpClient    *http.Client
}

func NewVoiceDialer(cfg config.DialerConfig) *VoiceDialer {
	return &VoiceDialer{
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		apiKey:        cfg.APIKey,
		assistantID:   cfg.AssistantID,
		phoneNumberID: cfg.PhoneNumberID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartCall dials the user's number with their profile passed through as
// assistant variables so the voice agent opens with context.
func (d *VoiceDialer) StartCall(ctx context.Context, profile session.UserProfile, returning bool) error {
	if d.apiKey == "" || d.assistantID == "" || d.phoneNumberID == "" {
		return fmt.Errorf("dialer is not fully configured")
	}

	payload := map[string]interface{}{
		"assistantId":   d.assistantID,
		"phoneNumberId": d.phoneNumberID,
		"customer": map[string]string{
			"number": profile.Phone,
		},
		"assistantOverrides": map[string]interface{}{
			"variableValues": map[string]string{
				"name":      profile.Name,
				"bio":       profile.Bio,
				"returning": fmt.Sprintf("%t", returning),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+"/call", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send call request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("call request status %d: %s", resp.StatusCode, string(body))
	}

	logger.InfoCF("dialer", "Outbound call started", map[string]interface{}{
		"user_id":   profile.ID,
		"returning": returning,
	})
	return nil
}
