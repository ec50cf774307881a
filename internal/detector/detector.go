// Package detector answers whether a previously started server process is
// still the same process. A bare pid is not enough: pids get recycled, so
// detectors also compare the executable name and the start time captured
// when the process was launched.
package detector

// Detector reports whether a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
