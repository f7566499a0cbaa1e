package logger

import "context"

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// loggerKey is the context key for the logger.
	loggerKey contextKey = "rollmesh.logger"
	// matchIDKey is the context key for the match ID.
	matchIDKey contextKey = "rollmesh.match_id"
	// peerIDKey is the context key for the local peer ID.
	peerIDKey contextKey = "rollmesh.peer_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithMatchID adds a match ID to the context.
func WithMatchID(ctx context.Context, matchID string) context.Context {
	return context.WithValue(ctx, matchIDKey, matchID)
}

// MatchIDFromContext extracts the match ID from context.
func MatchIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(matchIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPeerID adds the local peer ID to the context.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, peerIDKey, peerID)
}

// PeerIDFromContext extracts the local peer ID from context.
func PeerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(peerIDKey).(string); ok {
		return id
	}
	return ""
}

// L is a shorthand for FromContext that also enriches the logger
// with the match ID and peer ID from the context.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)

	if matchID := MatchIDFromContext(ctx); matchID != "" {
		l = l.With("match_id", matchID)
	}
	if peerID := PeerIDFromContext(ctx); peerID != "" {
		l = l.With("peer_id", peerID)
	}

	return l
}
