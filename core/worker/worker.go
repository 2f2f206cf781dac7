// worker.go - Background worker tasks.
// Copyright (C) 2026  The epochd Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package worker provides managed background goroutines.
package worker

import "sync"

// Worker is a set of managed background goroutines that share a single halt
// signal.  The zero value is ready for use.
type Worker struct {
	sync.WaitGroup

	initOnce sync.Once
	haltOnce sync.Once
	haltCh   chan interface{}
}

// Go executes fn in a new goroutine.  It is fn's responsibility to monitor
// the channel returned by HaltCh and to return once it is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals every goroutine started under the Worker to terminate, and
// waits till all of them have returned.  It is safe to call Halt more than
// once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel that will be closed on a call to Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// IsHalted returns true iff Halt has been called.
func (w *Worker) IsHalted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}
