package model

import "time"

// DefaultProvider is the provider hint that lets the backend pick a model.
const DefaultProvider = "default"

// Session identifies one remote conversation. It is created once per exchange
// and never regenerated; its ID travels on every correlated request.
type Session struct {
	ID        string
	Provider  string
	CreatedAt time.Time
}

// IsZero reports whether the session has not been created yet.
func (s Session) IsZero() bool {
	return s.ID == ""
}
