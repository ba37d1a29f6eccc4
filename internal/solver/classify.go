package solver

import (
	"fmt"

	"github.com/san-kum/algsim/internal/dynamo"
	"github.com/san-kum/algsim/internal/newton"
)

const failPrefix = "could not find acceptable solution: "

// classify turns one root-finding report into a status and, for failures,
// a message naming the cause. maxErr is the infinity norm of the model
// residual at the returned iterate; NaN never meets tol.
func classify(res newton.Result, maxErr, tol float64, errorOnFail bool) (dynamo.Status, string) {
	within := maxErr <= tol

	if !res.Converged {
		switch {
		case errorOnFail:
			return dynamo.StatusSolverTerminated, failPrefix + res.Reason
		case within:
			return dynamo.StatusSuccess, ""
		}
		return dynamo.StatusSolverTerminated, fmt.Sprintf(
			"%ssolver terminated unsuccessfully and maximum solution error (%g) above tolerance (%g)",
			failPrefix, maxErr, tol)
	}

	if !within {
		if errorOnFail {
			return dynamo.StatusResidualTooLarge, fmt.Sprintf(
				"%sresidual norm %g above tolerance %g", failPrefix, maxErr, tol)
		}
		return dynamo.StatusResidualTooLarge, fmt.Sprintf(
			"%ssolver converged but maximum solution error (%g) above tolerance (%g)",
			failPrefix, maxErr, tol)
	}

	return dynamo.StatusSuccess, ""
}
