// Package scene builds the initial conditions, controls and losses of the
// named scenarios the CLI runs: a two-ball collision, a drop onto a floor, a
// ball at rest and a ball bouncing off reflecting walls. Particles of each
// group are rejection-sampled inside a ball from a seeded source, so a scene
// is reproducible from its Config.
package scene
