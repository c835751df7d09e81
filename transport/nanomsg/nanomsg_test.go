//go:build (linux || darwin || freebsd) && (amd64 || arm64)

package nanomsg

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/obinnaokechukwu/nnbridge/internal/bindings"
	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.Equal(t, transport.EAGAIN, mapErr(bindings.Errno(unix.EAGAIN)))
	assert.Equal(t, transport.ETERM, mapErr(bindings.ETERM))
	assert.Equal(t, transport.EFSM, mapErr(fmt.Errorf("recv: %w", bindings.EFSM)))

	fatal := mapErr(bindings.Errno(unix.EFAULT))
	assert.ErrorIs(t, fatal, transport.ErrFatal)
	assert.ErrorIs(t, fatal, transport.EFAULT)

	unknown := bindings.Errno(bindings.Hausnumero + 999)
	assert.Equal(t, unknown, mapErr(unknown))
	assert.Equal(t, bindings.ErrNotLoaded, mapErr(bindings.ErrNotLoaded))
}

func openTransport(t *testing.T) transport.Transport {
	t.Helper()
	tr, err := Open("", 10*time.Millisecond)
	if errors.Is(err, bindings.ErrLibraryNotFound) {
		t.Skipf("nanomsg not available: %v", err)
	}
	require.NoError(t, err)
	return tr
}

func TestPairRoundTrip(t *testing.T) {
	tr := openTransport(t)
	assert.NotEmpty(t, tr.(*Transport).Path())
	ctx, err := tr.NewContext()
	require.NoError(t, err)

	a, err := ctx.Open(transport.Pair)
	require.NoError(t, err)
	b, err := ctx.Open(transport.Pair)
	require.NoError(t, err)

	_, err = a.Bind("inproc://nnbridge-pair")
	require.NoError(t, err)
	_, err = b.Connect("inproc://nnbridge-pair")
	require.NoError(t, err)

	_, err = a.Send([]byte("hello"), 0)
	require.NoError(t, err)
	m, err := b.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(m.Body))

	_, err = b.Recv(transport.DontWait)
	assert.ErrorIs(t, err, transport.EAGAIN)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, ctx.Term())
}

func TestRecvTimeout(t *testing.T) {
	tr := openTransport(t)
	ctx, err := tr.NewContext()
	require.NoError(t, err)
	s, err := ctx.Open(transport.Pull)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetOption(transport.SolSocket, transport.OptRcvTimeo, transport.IntValue(30)))
	_, err = s.Recv(0)
	assert.ErrorIs(t, err, transport.ETIMEDOUT)
}

func TestTermUnblocksRecv(t *testing.T) {
	tr := openTransport(t)
	ctx, err := tr.NewContext()
	require.NoError(t, err)
	s, err := ctx.Open(transport.Pull)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Recv(0)
		errc <- err
	}()

	termed := make(chan struct{})
	go func() {
		_ = ctx.Term()
		close(termed)
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ETERM)
	case <-time.After(time.Second):
		t.Fatal("recv was not unblocked by Term")
	}
	require.NoError(t, s.Close())
	select {
	case <-termed:
	case <-time.After(time.Second):
		t.Fatal("Term did not return after the last close")
	}
}
