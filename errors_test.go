package nnbridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"nil", nil, 0},
		{"critical", &Error{Op: "socket.send", Err: ErrCritical}, CodeCritical},
		{"terminated", ErrTerminated, ErrorBase + 53},
		{"wrapped errno", &Error{Op: "socket.recv", Err: transport.EAGAIN}, ErrorBase + 12},
		{"fmt wrapped errno", fmt.Errorf("relay: %w", transport.EADDRINUSE), ErrorBase + 5},
		{"invalid socket", &Error{Op: "socket.close", Err: errInvalidSocket}, ErrorBase + 9},
		{"invalid context", errInvalidContext, ErrorBase + 14},
		{"closed", ErrClosed, ErrorBase + 13},
		{"out of memory", ErrOutOfMemory, ErrorBase + 44},
		{"fsm", transport.EFSM, ErrorBase + 54},
		{"unknown errno", transport.Errno(99), ErrorBase},
		{"plain error", errors.New("boom"), ErrorBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestInvalidHandleError(t *testing.T) {
	err := &Error{Op: "socket.recv", Err: errInvalidSocket}
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, err, transport.ENOTSOCK)
	assert.NotErrorIs(t, err, transport.EINVAL)
	assert.Equal(t, "nnbridge socket.recv: nnbridge: invalid handle", err.Error())

	assert.ErrorIs(t, errInvalidContext, ErrInvalidHandle)
	assert.ErrorIs(t, errInvalidContext, transport.EINVAL)
}

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("op", nil))

	err := wrapErr("socket.send", transport.ETERM)
	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "socket.send", e.Op)
	assert.True(t, IsTerminated(err))
	assert.False(t, IsWouldBlock(err))

	// an operation already attached is kept
	again := wrapErr("device", err)
	assert.Same(t, err, again)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "socket.recv", Err: ErrWouldBlock}
	assert.Contains(t, err.Error(), "socket.recv")
	assert.True(t, IsWouldBlock(err))
	assert.Equal(t, ErrWouldBlock, errors.Unwrap(err))
}
