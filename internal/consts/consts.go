package consts

import "time"

// Default deadlines for tracked operations
const (
	// DefaultToolTimeout applies when neither the caller nor the config
	// provides a per-tool deadline
	DefaultToolTimeout = 30 * time.Second
	// DefaultCommandTimeout is the deadline for shell command execution
	DefaultCommandTimeout = 2 * time.Minute
	// DefaultBrowserTimeout is the deadline for browser automation steps
	DefaultBrowserTimeout = 90 * time.Second
	// DefaultFileTimeout is the deadline for file read/write/search tools
	DefaultFileTimeout = 15 * time.Second
	// DefaultMCPTimeout is the deadline for MCP tool invocations
	DefaultMCPTimeout = 60 * time.Second
)

// Timeouts for shared infrastructure
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout2Minutes is a 2 minute timeout
	Timeout2Minutes = 2 * time.Minute
)

// History and channel sizing
const (
	// DefaultEventHistorySize bounds the in-memory ring of recent timeout events
	DefaultEventHistorySize = 32
	// SubscriberBufferSize is the per-subscriber timeout event channel capacity
	SubscriberBufferSize = 16
)

// LLM defaults
const (
	// DefaultMaxTokens is the default maximum tokens for fallback generation
	DefaultMaxTokens = 1024
	// MaxFallbackSuggestions caps the number of suggestions kept from AI output
	MaxFallbackSuggestions = 4
)
