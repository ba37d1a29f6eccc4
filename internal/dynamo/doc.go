// Package dynamo provides core primitives for solving algebraic systems.
//
// The package defines the fundamental types shared by the solver, the model
// adapters and the front ends:
//
//   - [State]: vector of unknowns at one time point
//   - [Model]: residual system g(t, y, p) = 0 supplied by a discretisation
//   - [SymbolicModel]: a [Model] that also exposes its residual as expressions
//   - [Input]: a parameter value, either concrete or a symbolic placeholder
//   - [Status]: termination classification of one root-finding attempt
//
// # Example
//
//	inputs := dynamo.Inputs{
//	    "param": dynamo.Concrete(7),
//	    "gain":  dynamo.Symbolic("gain"),
//	}
//	if inputs.HasSymbolic() {
//	    // the solve produces a sensitivity-capable solution
//	}
//
// # Thread Safety
//
// Models are read-only during a solve and may be shared between solves.
package dynamo
