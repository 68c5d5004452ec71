// Package compute provides execution backends for the data-parallel passes of
// a simulation step.
//
// Two backends are available:
//
//   - CPU: fans chunks of particles or grid nodes out to goroutines
//   - Serial: runs everything on the calling goroutine (useful for debugging
//     and for runs that are already parallel at a higher level)
//
// Backends only schedule work. Callers are responsible for writing disjoint
// memory from each chunk; shared accumulation happens afterwards on one
// goroutine so results do not depend on the worker count.
//
//	backend := compute.AutoSelectBackend(0)
//	backend.ParallelFor(len(particles), 64, func(start, end int) {
//	    for p := start; p < end; p++ {
//	        // ...
//	    }
//	})
package compute
