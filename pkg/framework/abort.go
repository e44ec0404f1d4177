package framework

import "sync/atomic"

// AbortFlag is a cooperative cancellation flag shared by all units of a
// process. It is advisory: holders poll it between bounded operations.
type AbortFlag struct {
	set atomic.Bool
}

// Abort raises the flag.
func (f *AbortFlag) Abort() {
	f.set.Store(true)
}

// Aborted implements Aborter.
func (f *AbortFlag) Aborted() bool {
	return f != nil && f.set.Load()
}
