package provider

import (
	"fmt"

	"julius/model"
)

// NewProvider creates a backend based on configuration.
//
// An empty Type selects the Julius backend. Returns an error if the type is
// unknown or the client configuration is invalid (e.g., missing API key).
func NewProvider(cfg Config) (model.Backend, error) {
	switch cfg.Type {
	case ProviderTypeJulius, "":
		c, err := NewClient(cfg.Client)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
