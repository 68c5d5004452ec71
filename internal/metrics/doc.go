// Package metrics implements per-run summaries for sim.Simulation.
//
// Each metric observes every recorded particle state and reduces it to one
// number, stored in the run's memo under [sim.Metric.Name].
package metrics
