package api

import "net/http"

const (
	headerParticipantID = "X-Participant-Id"
	headerDisplayName   = "X-Display-Name"
)

// authMiddleware extracts the participant identity from request headers
// and adds it to the request context. The display name is optional and
// falls back to the participant ID.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participantID := r.Header.Get(headerParticipantID)
		if participantID == "" {
			http.Error(w, "missing X-Participant-Id header", http.StatusUnauthorized)

			return
		}

		displayName := r.Header.Get(headerDisplayName)
		if displayName == "" {
			displayName = participantID
		}

		ctx := withParticipant(r.Context(), participantID, displayName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
