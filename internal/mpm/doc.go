// Package mpm implements a differentiable material-point-method solver.
//
// Particles carry position, velocity, an affine velocity field and a
// deformation gradient ([State]). Each step ([Stepper.Step]) scatters mass and
// momentum to a dense background grid with quadratic B-spline weights
// ([Stencil]), updates grid velocities under gravity and a
// [BoundaryCondition], gathers velocities back with the same weights and
// advects the particles. The elastic response is a compressible neo-Hookean
// solid driven by the deformation gradient.
//
// [Stepper.Backward] is the exact reverse-mode derivative of one step. It
// replays a [Record] captured during the forward pass, so callers that need
// gradients must keep the pre-step state and record of every step.
//
// # Boundary clamping
//
// Boundary projection is piecewise linear in the grid velocity. Exactly at the
// clamp (velocity tangent to the wall) the normal component receives zero
// gradient, so an optimizer sees no signal from a clamped component.
//
// # Thread Safety
//
// A Stepper is immutable. A [Grid] is scratch storage for one run at a time;
// use a [GridPool] to share buffers between sequential or concurrent runs.
package mpm
