package solver

import "log/slog"

// Config is the per-instance solver configuration. It replaces any
// process-wide debug or tolerance setting.
type Config struct {
	// Tol bounds the infinity norm of the residual at an accepted point.
	Tol float64
	// ErrorOnFail selects the diagnostic wording of failures and whether a
	// terminated search whose best iterate already meets Tol is accepted.
	ErrorOnFail bool
	// MaxIterations caps each root-finding attempt.
	MaxIterations int
	// Debug logs every time point and rejects accepted states with NaN or Inf.
	Debug  bool
	Logger *slog.Logger
}

// DefaultConfig solves to a residual tolerance of 1e-6 within 100 iterations
// per time point and reports a failed point as an error.
func DefaultConfig() Config {
	return Config{
		Tol:           1e-6,
		ErrorOnFail:   true,
		MaxIterations: 100,
	}
}
