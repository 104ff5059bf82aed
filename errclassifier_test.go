// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"context"
	"errors"
	"testing"

	"github.com/omegazero-go/netio/errclass"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrClassifier(t *testing.T) {
	result := DefaultErrClassifier.Classify(nil)
	assert.Equal(t, "", result)

	result = DefaultErrClassifier.Classify(context.DeadlineExceeded)
	assert.Equal(t, errclass.ETIMEDOUT, result)

	result = DefaultErrClassifier.Classify(errors.New("unknown error"))
	assert.Equal(t, errclass.EGENERIC, result)
}
