package extract

import (
	"io"
)

// discardCloser discards everything written to it, standing in for a real
// tar process's stdin during tests.
type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }

// Fake is a test double: it never spawns a process. ExitErr is delivered on
// the done channel as soon as Fork's caller reads it, letting tests drive
// both the happy path (ExitErr == nil) and an extractor-crash path
// (ExitErr != nil).
type Fake struct {
	ExitErr error
	PID     int
	Forked  []string // directories Fork was called with, in order
}

func (f *Fake) Fork(dir string) (io.WriteCloser, int, <-chan error, error) {
	f.Forked = append(f.Forked, dir)
	done := make(chan error, 1)
	done <- f.ExitErr
	pid := f.PID
	if pid == 0 {
		pid = 4242
	}
	return discardCloser{}, pid, done, nil
}
