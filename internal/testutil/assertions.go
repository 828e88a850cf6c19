// Package testutil provides fakes, a TCP server harness and assertions for
// bridge tests.
package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/frontrow-dev/bridge/abi"
)

// AssertErrorIs asserts that err matches every sentinel via errors.Is.
func AssertErrorIs(t *testing.T, err error, sentinels ...error) {
	t.Helper()
	require.Error(t, err)
	for _, s := range sentinels {
		assert.True(t, errors.Is(err, s), "expected %v to match %v", err, s)
	}
}

// AssertHeapClean asserts that every block allocated from h has been freed.
func AssertHeapClean(t *testing.T, h *abi.Heap, msgAndArgs ...interface{}) {
	t.Helper()
	stats := h.Stats()
	assert.Zero(t, stats.Blocks, msgAndArgs...)
	assert.Zero(t, stats.Bytes, msgAndArgs...)
}

// AssertFrameField asserts that the value at path in a JSON frame equals
// expected once both are rendered as JSON values.
func AssertFrameField(t *testing.T, frame []byte, path string, expected interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	got := gjson.GetBytes(frame, path)
	require.True(t, got.Exists(), "frame %s has no field %q", frame, path)
	assert.Equal(t, expected, got.Value(), msgAndArgs...)
}

// AssertPanics asserts that the function panics
func AssertPanics(t *testing.T, f func(), msgAndArgs ...interface{}) {
	t.Helper()
	assert.Panics(t, f, msgAndArgs...)
}

// AssertNotPanics asserts that the function does not panic
func AssertNotPanics(t *testing.T, f func(), msgAndArgs ...interface{}) {
	t.Helper()
	assert.NotPanics(t, f, msgAndArgs...)
}
