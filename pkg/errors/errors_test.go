package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection", New(ErrorTypeConnection, "lost"), true},
		{"transient", New(ErrorTypeTransient, "deadlock"), true},
		{"timeout", New(ErrorTypeTimeout, "slow"), true},
		{"fatal", New(ErrorTypeFatal, "constraint"), false},
		{"config", New(ErrorTypeConfig, "bad"), false},
		{"plain", io.EOF, false},
		{"wrapped transient", fmt.Errorf("attempt 2: %w", New(ErrorTypeTransient, "lock wait")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
			assert.Equal(t, !tt.want, IsFatal(tt.err))
		})
	}
}

func TestIsFatalNil(t *testing.T) {
	assert.False(t, IsFatal(nil))
}

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeTransient, "deadlock")
	outer := Wrap(inner, ErrorTypeTransient, "write batch")

	require.NotNil(t, outer)
	assert.Equal(t, inner.StackTrace(), outer.StackTrace())
	require.NotEmpty(t, outer.StackTrace())
	assert.Contains(t, outer.StackTrace()[0].Function, "TestWrapPreservesStack")
	assert.Equal(t, "transient: write batch: transient: deadlock", outer.Error())
	assert.Nil(t, Wrap(nil, ErrorTypeFatal, "nothing"))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeFatal, TypeOf(New(ErrorTypeFatal, "x")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(io.EOF))
	assert.Equal(t, ErrorTypeConnection, TypeOf(fmt.Errorf("ctx: %w", New(ErrorTypeConnection, "x"))))
}

func TestCategories(t *testing.T) {
	retryable := []ErrorType{ErrorTypeConnection, ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeRateLimit}
	for _, typ := range retryable {
		assert.True(t, typ.Retryable(), typ)
	}
	final := []ErrorType{ErrorTypeFatal, ErrorTypeConfig, ErrorTypeVerification, ErrorTypeCapability, ErrorTypeInternal}
	for _, typ := range final {
		assert.False(t, typ.Retryable(), typ)
	}
}

func TestInTable(t *testing.T) {
	err := Wrap(New(ErrorTypeFatal, "type mismatch"), ErrorTypeFatal, "resolve columns").InTable("orders")
	v, ok := err.Detail("table")
	require.True(t, ok)
	assert.Equal(t, "orders", v)
}

func TestDetailSearchesChain(t *testing.T) {
	inner := New(ErrorTypeFatal, "duplicate key").WithDetail("code", 1062)
	outer := Wrap(inner, ErrorTypeFatal, "write batch").WithDetail("table", "orders")

	v, ok := outer.Detail("code")
	require.True(t, ok)
	assert.Equal(t, 1062, v)

	v, ok = outer.Detail("table")
	require.True(t, ok)
	assert.Equal(t, "orders", v)

	_, ok = outer.Detail("missing")
	assert.False(t, ok)
}
