// SPDX-License-Identifier: GPL-3.0-or-later

package netio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeConnStreamDeliversBytesAcrossHalves(t *testing.T) {
	wire, lib := newPipePair(false, pipeAddr{s: "local"}, pipeAddr{s: "remote"})

	n, err := lib.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = wire.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestPipeConnStreamReadMayReturnFewerBytesThanWritten(t *testing.T) {
	wire, lib := newPipePair(false, pipeAddr{s: "local"}, pipeAddr{s: "remote"})

	_, err := lib.Write([]byte("hello"))
	require.NoError(t, err)

	small := make([]byte, 2)
	n, err := wire.Read(small)
	require.NoError(t, err)
	assert.Equal(t, "he", string(small[:n]))

	rest := make([]byte, 16)
	n, err = wire.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, "llo", string(rest[:n]))
}

func TestPipeConnDatagramPreservesMessageBoundaries(t *testing.T) {
	wire, lib := newPipePair(true, pipeAddr{s: "local"}, pipeAddr{s: "remote"})

	_, _ = lib.Write([]byte("first"))
	_, _ = lib.Write([]byte("second"))

	buf := make([]byte, 16)
	n, err := wire.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	n, err = wire.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))
}

func TestPipeConnCloseUnblocksBlockedRead(t *testing.T) {
	wire, _ := newPipePair(false, pipeAddr{s: "local"}, pipeAddr{s: "remote"})

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := wire.Read(buf)
		done <- err
	}()

	// Give the reader goroutine a chance to block before closing.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, wire.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestPipeConnTryReadNeverBlocks(t *testing.T) {
	wire, _ := newPipePair(false, pipeAddr{s: "local"}, pipeAddr{s: "remote"})

	buf := make([]byte, 16)
	n, ok := wire.tryRead(buf)
	assert.False(t, ok)
	assert.Equal(t, 0, n)
}
