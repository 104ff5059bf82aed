// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import "github.com/omegazero-go/netio/errclass"

// ErrClassifier classifies errors into categorical strings for logging.
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "ECONNRESET") so the error event carries a stable label across platforms
// without the caller having to unwrap the underlying syscall or library error.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using the errclass subpackage.
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
