package errors

// -----------------------------------------------------------------------------
// Suggestions Registry
// -----------------------------------------------------------------------------

// Registry maps error codes to their remediation suggestions.
type Registry struct {
	suggestions map[string][]string
}

// NewRegistry creates a new suggestion registry.
func NewRegistry() *Registry {
	return &Registry{
		suggestions: make(map[string][]string),
	}
}

// Register adds a suggestion for an error code.
func (r *Registry) Register(code, text string) *Registry {
	r.suggestions[code] = append(r.suggestions[code], text)
	return r
}

// Get returns all suggestions for an error code in registration order.
func (r *Registry) Get(code string) []string {
	return r.suggestions[code]
}

// HasSuggestions returns true if any suggestions exist for the error code.
func (r *Registry) HasSuggestions(code string) bool {
	return len(r.suggestions[code]) > 0
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global default registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// AttachSuggestions appends the registered suggestions for err's code.
func AttachSuggestions(err *VeilError) *VeilError {
	if err == nil {
		return nil
	}
	if s := defaultRegistry.Get(err.Code); len(s) > 0 {
		err.Suggestions = append(err.Suggestions, s...)
	}
	return err
}

func init() {
	defaultRegistry.
		Register(ErrConfigNotFound, "Run 'veil config init' to create a default config file").
		Register(ErrConfigParseFailed, "Check the YAML syntax of the config file").
		Register(ErrConfigInvalid, "Run 'veil config show' to inspect the effective configuration").
		Register(ErrConfigWriteFailed, "Check that the config directory is writable")

	defaultRegistry.
		Register(ErrValidationInvalidURI, "Use a URI with a scheme, e.g. memory://default or http://localhost:5000").
		Register(ErrValidationTypeMismatch, "autolog.enabled must be true or false").
		Register(ErrSessionStateInvalid, "Create a new session for every scope; sessions are single-use")

	defaultRegistry.
		Register(ErrTrackingRequestFailed, "Check that the tracking server is running and reachable").
		Register(ErrTrackingRequestFailed, "Set the tracking URI with --tracking-uri or MLFLOW_TRACKING_URI").
		Register(ErrTrackingURIUnsupported, "Supported schemes are memory, http and https").
		Register(ErrRunAlreadyActive, "End the active run or start the new run as nested")

	defaultRegistry.
		Register(ErrCommandInvalidArgs, "Run 'veil --help' for usage")
}
