package api

import "context"

type contextKey string

const (
	participantIDKey contextKey = "participantID"
	displayNameKey   contextKey = "displayName"
)

// ParticipantIDFromContext extracts the participant ID from the context.
// Returns empty string if not present.
func ParticipantIDFromContext(ctx context.Context) string {
	if v := ctx.Value(participantIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}

	return ""
}

// DisplayNameFromContext extracts the display name from the context.
// Returns empty string if not present.
func DisplayNameFromContext(ctx context.Context) string {
	if v := ctx.Value(displayNameKey); v != nil {
		if name, ok := v.(string); ok {
			return name
		}
	}

	return ""
}

// withParticipant returns a new context carrying the participant identity.
func withParticipant(ctx context.Context, participantID, displayName string) context.Context {
	ctx = context.WithValue(ctx, participantIDKey, participantID)

	return context.WithValue(ctx, displayNameKey, displayName)
}
