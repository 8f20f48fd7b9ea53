// Package provider implements model.Backend against the Julius chat API.
//
// The orchestrator in the model package only knows the Backend interface.
// This package owns everything that is specific to the remote service:
// endpoint paths, request payloads, authentication headers, and the decoding
// of the streamed response body.
//
// # Endpoints
//
//   - POST /api/chat/start          creates a session (bearer + origin)
//   - POST /files/signed_url        acquires a short-lived transfer target
//   - PUT  <signed url>             transfers the raw file bytes (no bearer)
//   - POST /files/preprocess_file   requests server-side analysis
//   - POST /api/chat/sources        registers the file for the session
//   - POST /api/chat/message        sends a message, streams fragments back
//
// Calls scoped to a session carry the session id in the conversation-id
// header. See RequestContext.
//
// # Streaming
//
// The message endpoint streams a sequence of JSON objects. Transport chunks
// do not line up with objects, so StreamDecoder buffers across reads and only
// extracts complete units. Units that can never parse become warnings, never
// silent drops.
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:   provider.ProviderTypeJulius,
//	    Client: provider.ClientConfig{APIKey: key},
//	})
//	if err != nil {
//	    // handle error
//	}
//	orch := model.NewOrchestrator(p, model.OrchestratorConfig{Policy: model.DefaultPolicy()})
//	completion, err := orch.Completion(ctx, model.Request{Messages: messages})
package provider

// ProviderType identifies the backend implementation.
type ProviderType string

const (
	ProviderTypeJulius ProviderType = "julius"
)

// Config holds backend selection and client configuration.
type Config struct {
	Type   ProviderType
	Client ClientConfig
}
