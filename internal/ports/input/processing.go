package input

import "context"

// ProcessingService defines the primary port for openEO processing.
type ProcessingService interface {
	// Processes returns the metadata of all registered processes.
	Processes(ctx context.Context) []map[string]any

	// Links returns the links attached to the process listing.
	Links() []map[string]any

	// FileFormats returns the supported input and output formats.
	FileFormats(ctx context.Context) map[string]any

	// Execute runs a synchronous process graph request body and returns
	// the final result.
	Execute(ctx context.Context, token string, body []byte) (any, error)
}

// CapabilitiesService defines the primary port for backend discovery.
type CapabilitiesService interface {
	// Capabilities returns the root document.
	Capabilities(baseURL string) map[string]any

	// WellKnown returns the supported API versions.
	WellKnown() map[string]any

	// Conformance returns the conformance classes.
	Conformance() map[string]any

	// OIDCProviders returns the configured identity providers.
	OIDCProviders() map[string]any
}
