// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnID(t *testing.T) {
	id := NewConnID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)

	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestNewConnIDUniqueness(t *testing.T) {
	const count = 100
	seen := make(map[string]struct{}, count)

	for range count {
		id := NewConnID()
		_, duplicate := seen[id]
		require.False(t, duplicate, "duplicate connection ID generated: %s", id)
		seen[id] = struct{}{}
	}
}
