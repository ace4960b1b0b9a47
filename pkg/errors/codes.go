package errors

// -----------------------------------------------------------------------------
// Configuration Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = "CONFIG_NOT_FOUND"

	// ErrConfigParseFailed indicates the configuration file could not be parsed.
	ErrConfigParseFailed = "CONFIG_PARSE_FAILED"

	// ErrConfigInvalid indicates configuration values are invalid.
	ErrConfigInvalid = "CONFIG_INVALID"

	// ErrConfigWriteFailed indicates the config file could not be written.
	ErrConfigWriteFailed = "CONFIG_WRITE_FAILED"
)

// -----------------------------------------------------------------------------
// Validation Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrValidationEmptyValue indicates a required string was empty.
	ErrValidationEmptyValue = "VALIDATION_EMPTY_VALUE"

	// ErrValidationInvalidURI indicates a tracking URI could not be parsed
	// or has no scheme.
	ErrValidationInvalidURI = "VALIDATION_INVALID_URI"

	// ErrValidationTypeMismatch indicates a value had the wrong type,
	// e.g. a non-boolean for the enabled flag.
	ErrValidationTypeMismatch = "VALIDATION_TYPE_MISMATCH"

	// ErrValidationNilFunction indicates a run was built around a nil function.
	ErrValidationNilFunction = "VALIDATION_NIL_FUNCTION"

	// ErrSessionStateInvalid indicates a session was entered twice or exited
	// without being entered.
	ErrSessionStateInvalid = "SESSION_STATE_INVALID"
)

// -----------------------------------------------------------------------------
// Tracking Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrNoActiveRun indicates a tag, param or end call without an active run.
	ErrNoActiveRun = "NO_ACTIVE_RUN"

	// ErrRunNotFound indicates a run id unknown to the tracking store.
	ErrRunNotFound = "RUN_NOT_FOUND"

	// ErrRunAlreadyActive indicates a non-nested start while a run is active.
	ErrRunAlreadyActive = "RUN_ALREADY_ACTIVE"

	// ErrExperimentNotFound indicates an experiment id unknown to the store.
	ErrExperimentNotFound = "EXPERIMENT_NOT_FOUND"

	// ErrParamConflict indicates a parameter was logged twice with
	// different values on the same run.
	ErrParamConflict = "PARAM_CONFLICT"

	// ErrTrackingRequestFailed indicates the tracking server rejected a
	// request or could not be reached.
	ErrTrackingRequestFailed = "TRACKING_REQUEST_FAILED"

	// ErrTrackingURIUnsupported indicates no store handles the URI scheme.
	ErrTrackingURIUnsupported = "TRACKING_URI_UNSUPPORTED"
)

// -----------------------------------------------------------------------------
// Repository Metadata Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrRepoNotFound indicates no repository was found at or above the path.
	ErrRepoNotFound = "REPO_NOT_FOUND"

	// ErrRepoRemoteUnavailable indicates the remote URL could not be read.
	ErrRepoRemoteUnavailable = "REPO_REMOTE_UNAVAILABLE"

	// ErrRepoHeadUnavailable indicates HEAD could not be resolved.
	ErrRepoHeadUnavailable = "REPO_HEAD_UNAVAILABLE"

	// ErrRepoDetachedHead indicates HEAD does not point at a branch.
	ErrRepoDetachedHead = "REPO_DETACHED_HEAD"
)

// -----------------------------------------------------------------------------
// Command Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrCommandInvalidArgs indicates invalid CLI arguments.
	ErrCommandInvalidArgs = "COMMAND_INVALID_ARGS"

	// ErrCommandFailed indicates the tracked child process failed to start.
	ErrCommandFailed = "COMMAND_FAILED"
)

// -----------------------------------------------------------------------------
// Internal Error Codes
// -----------------------------------------------------------------------------

const (
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = "INTERNAL_ERROR"
)
