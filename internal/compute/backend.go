package compute

// Backend executes the data-parallel passes of a simulation step. Implementations
// must call fn over disjoint [start, end) ranges covering [0, n) and return only
// after every call has finished.
type Backend interface {
	Name() string
	Available() bool
	ParallelFor(n, minChunk int, fn func(start, end int))
	Workers() int
	Cleanup()
}

// AutoSelectBackend returns a CPU backend sized to the machine, or a serial
// backend when only one worker is requested.
func AutoSelectBackend(workers int) Backend {
	if workers == 1 {
		return NewSerialBackend()
	}
	return NewCPUBackend(workers)
}

// ByName resolves a backend from a configuration string.
func ByName(name string, workers int) (Backend, error) {
	switch name {
	case "", "auto":
		return AutoSelectBackend(workers), nil
	case "cpu":
		return NewCPUBackend(workers), nil
	case "serial":
		return NewSerialBackend(), nil
	}
	return nil, &UnknownBackendError{Name: name}
}

type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return "compute: unknown backend " + e.Name
}
