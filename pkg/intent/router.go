// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package intent

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/providers"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

const (
	callThreshold  = 0.8
	introThreshold = 0.7
	verdictMinConf = 0.7

	// MetaPendingIntro holds the match id of an introduction offer the
	// user has not answered yet.
	MetaPendingIntro = "pending_intro_match"
)

// Dialer starts outbound voice calls.
type Dialer interface {
	StartCall(ctx context.Context, profile session.UserProfile, returning bool) error
}

// Introduction is one match offer produced by the matchmaker.
type Introduction struct {
	MatchID string
	Message string
}

// Matchmaker finds and finalizes introductions between users.
type Matchmaker interface {
	RequestIntroduction(ctx context.Context, userID string) (Introduction, error)
	StoredIntroduction(ctx context.Context, matchID string) (string, error)
	MarkDelivered(ctx context.Context, matchID string) error
}

// Router classifies each inbound message and dispatches exactly one
// handler, highest priority first: pending template reply, call intent,
// introduction intent, then plain chat.
type Router struct {
	provider   providers.LLMProvider
	manager    *session.Manager
	dialer     Dialer
	matchmaker Matchmaker
	model      string
	maxHistory int
}

func NewRouter(provider providers.LLMProvider, manager *session.Manager, dialer Dialer, matchmaker Matchmaker, model string, maxHistory int) *Router {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Router{
		provider:   provider,
		manager:    manager,
		dialer:     dialer,
		matchmaker: matchmaker,
		model:      model,
		maxHistory: maxHistory,
	}
}

// Route persists the inbound message, picks one handler, and persists the
// reply before returning it.
func (r *Router) Route(ctx context.Context, rec session.Record, profile session.UserProfile, text string) (string, error) {
	rec, err := r.manager.Append(ctx, rec.ID, session.NewMessage("user", text))
	if err != nil {
		return "", fmt.Errorf("persist inbound message: %w", err)
	}

	reply, err := r.dispatch(ctx, rec, profile, text)
	if err != nil {
		return "", err
	}

	if _, err := r.manager.Append(ctx, rec.ID, session.NewMessage("assistant", reply)); err != nil {
		return "", fmt.Errorf("persist reply: %w", err)
	}
	return reply, nil
}

func (r *Router) dispatch(ctx context.Context, rec session.Record, profile session.UserProfile, text string) (string, error) {
	if matchID := rec.Metadata[MetaPendingIntro]; matchID != "" {
		verdict := r.templateVerdict(ctx, text)
		if verdict.IsTemplateResponse && verdict.Confidence > verdictMinConf {
			return r.handleTemplateReply(ctx, rec, matchID, verdict)
		}
	}

	if score := r.score(ctx, callScorePrompt, text); score >= callThreshold {
		logger.InfoCF("intent", "Call intent detected", map[string]interface{}{
			"session_id": rec.ID,
			"score":      score,
		})
		return r.handleCall(ctx, rec, profile)
	}

	if score := r.score(ctx, introScorePrompt, text); score >= introThreshold {
		logger.InfoCF("intent", "Introduction intent detected", map[string]interface{}{
			"session_id": rec.ID,
			"score":      score,
		})
		return r.handleIntroduction(ctx, rec, profile)
	}

	return r.handleChat(ctx, rec, profile, text)
}

// score asks the classifier for a confidence value. Any failure reads as
// zero so one flaky classification can never take the whole pipeline down.
func (r *Router) score(ctx context.Context, prompt, text string) float64 {
	resp, err := r.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: text},
	}, r.model, map[string]interface{}{"max_tokens": 10})
	if err != nil {
		logger.WarnCF("intent", "Intent scoring failed", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}
	return ParseScore(resp.Content)
}

func (r *Router) templateVerdict(ctx context.Context, text string) TemplateVerdict {
	resp, err := r.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: templateVerdictPrompt},
		{Role: "user", Content: text},
	}, r.model, map[string]interface{}{"max_tokens": 100})
	if err != nil {
		logger.WarnCF("intent", "Template verdict failed", map[string]interface{}{
			"error": err.Error(),
		})
		return TemplateVerdict{}
	}
	return ParseTemplateVerdict(resp.Content)
}

func (r *Router) handleTemplateReply(ctx context.Context, rec session.Record, matchID string, verdict TemplateVerdict) (string, error) {
	// The offer is answered either way; clear it so later messages route
	// normally again.
	if _, err := r.manager.SetMetadata(ctx, rec.ID, MetaPendingIntro, ""); err != nil {
		return "", fmt.Errorf("clear pending introduction: %w", err)
	}

	if verdict.ResponseType != "accept" {
		return declineReply, nil
	}

	message, err := r.matchmaker.StoredIntroduction(ctx, matchID)
	if err != nil {
		return "", fmt.Errorf("load stored introduction: %w", err)
	}
	if err := r.matchmaker.MarkDelivered(ctx, matchID); err != nil {
		logger.WarnCF("intent", "Failed to mark introduction delivered", map[string]interface{}{
			"match_id": matchID,
			"error":    err.Error(),
		})
	}
	return message, nil
}

func (r *Router) handleCall(ctx context.Context, rec session.Record, profile session.UserProfile) (string, error) {
	reply := fmt.Sprintf("Calling you now, %s!", profile.Name)
	resp, err := r.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: fmt.Sprintf(callConfirmationPrompt, profile.Name, profile.Bio)},
	}, r.model, map[string]interface{}{"max_tokens": 100})
	if err == nil && resp.Content != "" {
		reply = resp.Content
	}

	if err := r.dialer.StartCall(ctx, profile, len(rec.Messages) > 1); err != nil {
		return "", fmt.Errorf("start outbound call: %w", err)
	}
	return reply, nil
}

func (r *Router) handleIntroduction(ctx context.Context, rec session.Record, profile session.UserProfile) (string, error) {
	intro, err := r.matchmaker.RequestIntroduction(ctx, profile.ID)
	if err != nil {
		return "", fmt.Errorf("request introduction: %w", err)
	}
	if intro.Message == "" {
		return introApologyReply, nil
	}

	if _, err := r.manager.SetMetadata(ctx, rec.ID, MetaPendingIntro, intro.MatchID); err != nil {
		return "", fmt.Errorf("record pending introduction: %w", err)
	}
	return intro.Message, nil
}

func (r *Router) handleChat(ctx context.Context, rec session.Record, profile session.UserProfile, text string) (string, error) {
	msgs := []providers.Message{
		{Role: "system", Content: fmt.Sprintf(chatSystemPrompt, profile.Name, profile.Bio)},
	}
	// History already includes the inbound message persisted by Route.
	for _, m := range rec.History(r.maxHistory) {
		msgs = append(msgs, providers.Message{Role: m.Role, Content: m.Content})
	}
	if len(rec.Messages) == 0 {
		msgs = append(msgs, providers.Message{Role: "user", Content: text})
	}

	resp, err := r.provider.Chat(ctx, msgs, r.model, nil)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return resp.Content, nil
}
