package ratelimit

// Config carries the request budgets for one window
type Config struct {
	// GlobalLimit caps all requests across every caller.
	GlobalLimit int64
	// ClientLimit caps requests from a single caller.
	ClientLimit int64
	// RunStartLimit caps run starts from a single caller; starting a run
	// is far more expensive than reading one.
	RunStartLimit int64
	// WindowSeconds is the fixed window all three budgets share.
	WindowSeconds int
}

// DefaultConfig returns budgets sized for a single-observatory deployment:
// a handful of dashboards polling, one operator clicking
func DefaultConfig() Config {
	return Config{
		GlobalLimit:   600,
		ClientLimit:   240,
		RunStartLimit: 10,
		WindowSeconds: 60,
	}
}
