// Package output provides the tool result envelope and error handling.
package output

// Error codes carried in the result envelope.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeAuth       = "auth_failed"
	CodeRateLimit  = "rate_limit"
	CodeNetwork    = "network"
	CodeAPI        = "api_error"
)

// Exit codes for CLI commands (auth verify, etc.).
const (
	ExitOK         = 0 // Success
	ExitValidation = 1 // Invalid arguments or flags
	ExitNotFound   = 2 // Resource not found
	ExitAuth       = 3 // Authentication failed
	ExitRateLimit  = 5 // Rate limited (429)
	ExitNetwork    = 6 // Connection/DNS/timeout error
	ExitAPI        = 7 // Server returned error
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeValidation:
		return ExitValidation
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	default:
		return ExitAPI
	}
}
