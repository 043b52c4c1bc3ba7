// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package session

import (
	"fmt"
	"sort"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Message is one transcript entry. Values are never mutated after creation.
type Message struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, TimestampMS: nowMS()}
}

// Record is the full state of one conversation session.
type Record struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Identity       string            `json:"identity"`
	Status         Status            `json:"status"`
	StartedAtMS    int64             `json:"started_at_ms"`
	LastActivityMS int64             `json:"last_activity_ms"`
	EndedAtMS      int64             `json:"ended_at_ms"`
	Messages       []Message         `json:"messages"`
	Metadata       map[string]string `json:"metadata"`
}

// NewRecord opens a session for a resolved user. The id embeds the creation
// epoch so concurrent sessions for one user over time stay distinguishable.
func NewRecord(userID, identity string) Record {
	now := time.Now()
	ms := now.UnixMilli()
	return Record{
		ID:             fmt.Sprintf("%s_%d", userID, now.Unix()),
		UserID:         userID,
		Identity:       identity,
		Status:         StatusActive,
		StartedAtMS:    ms,
		LastActivityMS: ms,
		Metadata:       map[string]string{},
	}
}

// History returns the newest max messages in chronological order.
// max <= 0 means no cap.
func (r Record) History(max int) []Message {
	msgs := r.Messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// UserProfile is one directory entry for a registered identity.
type UserProfile struct {
	ID                  string
	Phone               string
	Name                string
	Bio                 string
	OnboardingCompleted bool
}

// Transcript is the closed-session payload handed to the notifier.
type Transcript struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Identity  string    `json:"identity"`
	Messages  []Message `json:"messages"`
}

// SortMessages orders msgs by timestamp, preserving the original relative
// order of entries with equal timestamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].TimestampMS < msgs[j].TimestampMS
	})
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
