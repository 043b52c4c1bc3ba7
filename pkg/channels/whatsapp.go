// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/bus"
	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/logger"
)

const defaultWhatsAppAPIBase = "https://api.twilio.com/2010-04-01"

// WhatsAppChannel sends messages through the Twilio messaging API.
// Inbound traffic arrives via the HTTP gateway webhook, so Start and
// Stop only flip the running flag.
type WhatsAppChannel struct {
	accountSID string
	authToken  string
	fromNumber string
	apiBase    string
	httpClient *http.Client
	running    atomic.Bool
}

func NewWhatsAppChannel(cfg config.WhatsAppConfig) (*WhatsAppChannel, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("whatsapp account_sid and auth_token are required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("whatsapp from_number is required")
	}

	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultWhatsAppAPIBase
	}

	return &WhatsAppChannel{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (w *WhatsAppChannel) Name() string { return "whatsapp" }

func (w *WhatsAppChannel) Start(ctx context.Context) error {
	w.running.Store(true)
	logger.InfoC("channels", "WhatsApp channel started")
	return nil
}

func (w *WhatsAppChannel) Stop(ctx context.Context) error {
	w.running.Store(false)
	logger.InfoC("channels", "WhatsApp channel stopped")
	return nil
}

func (w *WhatsAppChannel) IsRunning() bool { return w.running.Load() }

// Send delivers one outbound message to the user's WhatsApp number.
func (w *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	form := url.Values{}
	form.Set("To", "whatsapp:"+msg.Identity)
	form.Set("From", "whatsapp:"+w.fromNumber)
	form.Set("Body", msg.Text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", w.apiBase, w.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(w.accountSID, w.authToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp send status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
