package provider

import "net/http"

const (
	headerAuthorization  = "Authorization"
	headerOrigin         = "Origin"
	headerConversationID = "conversation-id"
)

// RequestContext is the immutable authentication and correlation context
// applied to outgoing requests. Derive a session-scoped copy with WithSession;
// the receiver is never modified.
type RequestContext struct {
	apiKey    string
	origin    string
	sessionID string
}

// NewRequestContext builds the base context from the bearer secret and origin.
func NewRequestContext(apiKey, origin string) RequestContext {
	return RequestContext{apiKey: apiKey, origin: origin}
}

// WithSession returns a copy that correlates requests with the given session.
func (rc RequestContext) WithSession(sessionID string) RequestContext {
	rc.sessionID = sessionID
	return rc
}

// SessionID returns the correlated session, if any.
func (rc RequestContext) SessionID() string {
	return rc.sessionID
}

func (rc RequestContext) apply(h http.Header) {
	h.Set(headerAuthorization, "Bearer "+rc.apiKey)
	if rc.origin != "" {
		h.Set(headerOrigin, rc.origin)
	}
	if rc.sessionID != "" {
		h.Set(headerConversationID, rc.sessionID)
	}
}
