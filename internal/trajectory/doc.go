// Package trajectory keeps the forward history of a simulation run.
//
// A [Memo] stores, for every step, the particle state the step consumed and
// the scatter weights and grid velocities it produced. That is exactly what
// the reverse pass needs, so a memo must outlive the run and is never
// recomputed. Observables such as [Memo.CenterOfMass] read any recorded step.
package trajectory
