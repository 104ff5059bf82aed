// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: org.omegazero.net.common.SyncWorker (original_source)
//

package netio

// Worker executes submitted tasks. Implementations must run tasks in
// submission order and must never run two tasks from the same connection
// concurrently; this is the serialization boundary for all non-error
// event dispatch described in doc.go.
type Worker interface {
	Submit(task func())
}

// SyncWorker runs every submitted task synchronously on the calling
// goroutine, which for tasks arising from readiness events is the
// selector's loop goroutine. It is the default [Worker] and requires no
// extra synchronization: submission order is call order.
type SyncWorker struct{}

var _ Worker = SyncWorker{}

// Submit implements [Worker].
func (SyncWorker) Submit(task func()) {
	task()
}

// WorkerFunc adapts a function offloading tasks elsewhere (e.g. to a
// bounded goroutine pool or a single dedicated goroutine with its own
// queue) into a [Worker]. The function itself is responsible for
// preserving submission order and non-concurrency per connection; a
// naive `go task()` does NOT satisfy this contract and must not be used
// directly as a WorkerFunc.
type WorkerFunc func(task func())

var _ Worker = WorkerFunc(nil)

// Submit implements [Worker].
func (f WorkerFunc) Submit(task func()) {
	f(task)
}
