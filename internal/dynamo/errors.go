package dynamo

import "errors"

// Domain errors for solve operations.
var (
	// ErrInvalidConfig marks input-contract violations detected before any
	// root-finding attempt. Specific causes are wrapped alongside it.
	ErrInvalidConfig = errors.New("dynamo: invalid solve configuration")

	ErrEmptyTimeGrid     = errors.New("dynamo: time grid is empty")
	ErrMissingInput      = errors.New("dynamo: missing input parameter")
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between initial guess and system")
	ErrInvalidTolerance  = errors.New("dynamo: tolerance must be positive and finite")
	ErrNotSymbolicModel  = errors.New("dynamo: symbolic inputs require a model exposing its equations")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrNoAcceptableSolution is wrapped by every SolverError.
	ErrNoAcceptableSolution = errors.New("dynamo: could not find acceptable solution")

	// ErrNotSymbolic is returned by sensitivity queries on a solution that
	// was produced without symbolic inputs.
	ErrNotSymbolic = errors.New("dynamo: solution has no symbolic inputs")

	// ErrSingularJacobian indicates dg/dy is singular where the implicit
	// function theorem is applied.
	ErrSingularJacobian = errors.New("dynamo: residual jacobian is singular")

	// ErrRelationDiverged indicates the bound relation could not be
	// evaluated at the requested parameter value.
	ErrRelationDiverged = errors.New("dynamo: implicit relation did not converge")

	ErrUnknownVariable = errors.New("dynamo: unknown variable")
	ErrParamCount      = errors.New("dynamo: wrong number of parameter values")
)

// SolverError reports a failed time point with its classification.
type SolverError struct {
	Status  Status
	Step    int
	Time    float64
	State   State
	Message string
}

func (e *SolverError) Error() string {
	return e.Message
}

func (e *SolverError) Unwrap() error {
	return ErrNoAcceptableSolution
}
