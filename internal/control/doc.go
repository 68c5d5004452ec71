// Package control holds the parameters an optimizer adjusts between runs.
//
// Each parameter is a flat vector bound to the initial particle state:
//
//   - [Offset]: one vec3 per particle in a range, added to the target field
//   - [Uniform]: a single vec3 broadcast over the range
//   - [Scaled]: a scalar multiplying a fixed per-particle field
//
// The target field is the initial velocity or the initial position.
//
// # Usage
//
//	store := control.NewStore(n)
//	store.Define("swirl", control.Binding{Kind: control.Scaled, Range: r, Basis: swirl}, []float64{1})
//	init, _ := store.Apply(base, nil)
//	// run, evaluate gradients, then
//	store.Set("swirl", updated)
//
// A store never updates itself; gradients come back as plain values and the
// caller applies its own rule.
package control
