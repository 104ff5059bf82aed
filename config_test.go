// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))

	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
}
