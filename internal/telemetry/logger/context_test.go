package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestWithLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithLogger(ctx, l)

	retrieved := FromContext(ctx)
	if retrieved == nil {
		t.Fatal("FromContext returned nil")
	}

	retrieved.Info("test message")

	if buf.Len() == 0 {
		t.Error("Logger from context should produce output")
	}
}

func TestFromContext_Default(t *testing.T) {
	ctx := context.Background()

	// Should return default logger when none is set
	l := FromContext(ctx)
	if l == nil {
		t.Error("FromContext should return default logger, got nil")
	}
}

func TestWithMatchID(t *testing.T) {
	ctx := context.Background()
	matchID := "rmm_01arz3ndektsv4rrffq69g5fav"

	ctx = WithMatchID(ctx, matchID)

	retrieved := MatchIDFromContext(ctx)
	if retrieved != matchID {
		t.Errorf("MatchIDFromContext() = %q, want %q", retrieved, matchID)
	}
}

func TestMatchIDFromContext_Empty(t *testing.T) {
	ctx := context.Background()

	retrieved := MatchIDFromContext(ctx)
	if retrieved != "" {
		t.Errorf("MatchIDFromContext() = %q, want empty string", retrieved)
	}
}

func TestWithPeerID(t *testing.T) {
	ctx := context.Background()
	peerID := "peer-b"

	ctx = WithPeerID(ctx, peerID)

	retrieved := PeerIDFromContext(ctx)
	if retrieved != peerID {
		t.Errorf("PeerIDFromContext() = %q, want %q", retrieved, peerID)
	}
}

func TestPeerIDFromContext_Empty(t *testing.T) {
	ctx := context.Background()

	retrieved := PeerIDFromContext(ctx)
	if retrieved != "" {
		t.Errorf("PeerIDFromContext() = %q, want empty string", retrieved)
	}
}

func TestL_WithMatchID(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithLogger(ctx, l)
	ctx = WithMatchID(ctx, "rmm_01arz3ndektsv4rrffq69g5fav")

	// L() should enrich with match ID
	enrichedLogger := L(ctx)
	enrichedLogger.Info("test message")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	matchID, ok := logEntry["match_id"].(string)
	if !ok || matchID != "rmm_01arz3ndektsv4rrffq69g5fav" {
		t.Errorf("Expected match_id='rmm_01arz3ndektsv4rrffq69g5fav', got %v", logEntry["match_id"])
	}
}

func TestL_WithPeerID(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithLogger(ctx, l)
	ctx = WithPeerID(ctx, "peer-b")

	enrichedLogger := L(ctx)
	enrichedLogger.Info("test message")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	peerID, ok := logEntry["peer_id"].(string)
	if !ok || peerID != "peer-b" {
		t.Errorf("Expected peer_id='peer-b', got %v", logEntry["peer_id"])
	}
}

func TestL_WithBothIDs(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithLogger(ctx, l)
	ctx = WithMatchID(ctx, "rmm_01arz3ndektsv4rrffq69g5fav")
	ctx = WithPeerID(ctx, "peer-b")

	enrichedLogger := L(ctx)
	enrichedLogger.Info("test message")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if matchID, ok := logEntry["match_id"].(string); !ok || matchID != "rmm_01arz3ndektsv4rrffq69g5fav" {
		t.Errorf("Expected match_id='rmm_01arz3ndektsv4rrffq69g5fav', got %v", logEntry["match_id"])
	}

	if peerID, ok := logEntry["peer_id"].(string); !ok || peerID != "peer-b" {
		t.Errorf("Expected peer_id='peer-b', got %v", logEntry["peer_id"])
	}
}

func TestL_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	ctx = WithLogger(ctx, l)

	// L() without IDs should just return the logger
	enrichedLogger := L(ctx)
	enrichedLogger.Info("test message")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	// Should not have match_id or peer_id
	if _, ok := logEntry["match_id"]; ok {
		t.Error("Should not have match_id when not set")
	}

	if _, ok := logEntry["peer_id"]; ok {
		t.Error("Should not have peer_id when not set")
	}
}

func TestContextKeyCollision(t *testing.T) {
	// Test that our context keys don't collide with each other
	ctx := context.Background()

	ctx = WithMatchID(ctx, "rmm_01arz3ndektsv4rrffq69g5fbb")
	ctx = WithPeerID(ctx, "peer-c")

	// Both should be retrievable
	if matchID := MatchIDFromContext(ctx); matchID != "rmm_01arz3ndektsv4rrffq69g5fbb" {
		t.Errorf("MatchID collision, got %q", matchID)
	}

	if peerID := PeerIDFromContext(ctx); peerID != "peer-c" {
		t.Errorf("PeerID collision, got %q", peerID)
	}
}
