package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRetriableByKind(t *testing.T) {
	assert.True(t, New(Transient, "broker offline").Retriable)
	assert.True(t, New(Timeout, "ea did not ack").Retriable)
	assert.False(t, New(Validation, "bad volume").Retriable)
}

func TestBrokerRejectedRetriableBySubstring(t *testing.T) {
	assert.True(t, New(BrokerRejected, "Requote on EURUSD").Retriable)
	assert.True(t, New(BrokerRejected, "No connection to trade server").Retriable)
	assert.False(t, New(BrokerRejected, "Invalid stops").Retriable)
}

func TestAsUnwrapsThroughFmtWrap(t *testing.T) {
	base := New(NotFound, "account missing")
	wrapped := fmt.Errorf("loading account: %w", base)

	found, ok := As(wrapped)
	require := assert.New(t)
	require.True(ok)
	require.Equal(NotFound, found.Kind)
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Auth:           401,
		Validation:     400,
		NotFound:       404,
		Conflict:       409,
		Timeout:        504,
		Transient:      503,
		BrokerRejected: 503,
		Internal:       500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), "kind=%s", kind)
	}
}
