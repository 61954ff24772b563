package levelbind

// logger.go implements the user logger capability.

// Logger receives informational messages from the engine and from levelbind.
// Implementations must be safe for concurrent use.
type Logger interface {
	Log(msg string)
}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(msg string)

// Log calls f(msg).
func (f LoggerFunc) Log(msg string) { f(msg) }

// loggerShim forwards engine messages to the caller's logger.
type loggerShim struct {
	user Logger
}

func (s loggerShim) Log(msg string) { s.user.Log(msg) }
