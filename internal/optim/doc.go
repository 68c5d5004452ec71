// Package optim drives control variables toward a lower loss.
//
// [Descent] is fixed learning-rate gradient descent. [Minimize] wraps the
// line-search methods of gonum/optimize. Both work on any [Objective];
// [SimObjective] adapts a sim.Simulation and reuses one gradient tape for every
// evaluation. [Sweep] evaluates a grid of control values without gradients.
package optim
