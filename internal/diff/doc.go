// Package diff builds scalar losses over a recorded trajectory and computes
// their exact gradients with respect to control variables.
//
// Differentiation happens in two phases. [Build] compiles a loss expression
// and a list of control ids into an immutable [Tape]; this is purely
// structural and is done once per loss. [Tape.Evaluate] then reads one
// [trajectory.Memo], seeds the cotangents of every observed state, and walks
// the recorded steps in reverse through an [Adjoint], finally mapping the
// cotangent of the initial state onto each control through a [Pullback].
//
// # Usage
//
//	loss := diff.DistanceSquared(diff.CenterOfMass(diff.Final, group), diff.Feed("goal"))
//	tape, _ := diff.Build(loss, []string{"swirl"})
//	for iter := 0; iter < n; iter++ {
//		memo := run(loss)
//		grads, _ := tape.Evaluate(ctx, memo, stepper, store)
//	}
package diff
