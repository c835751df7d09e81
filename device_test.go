package nnbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/obinnaokechukwu/nnbridge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceForwards(t *testing.T) {
	lib := newLibrary(t)
	ctx := newContext(t, lib)

	front := newSocket(t, ctx, Pull)
	back := newSocket(t, ctx, Push)
	_, err := front.Bind("inproc://front")
	require.NoError(t, err)
	_, err = back.Bind("inproc://back")
	require.NoError(t, err)

	producer := newSocket(t, ctx, Push)
	_, err = producer.Connect("inproc://front")
	require.NoError(t, err)
	consumer := newSocket(t, ctx, Pull)
	_, err = consumer.Connect("inproc://back")
	require.NoError(t, err)

	dctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- lib.Device(dctx, front, back) }()
	waitBlocking(t, front)
	assert.True(t, back.Blocking())

	for i := 0; i < 3; i++ {
		_, err := producer.Send(context.Background(), []byte(fmt.Sprintf("job-%d", i)), 0)
		require.NoError(t, err)
	}
	require.NoError(t, producer.SendMulti(context.Background(), [][]byte{[]byte("a"), []byte("b")}, 0))

	for i := 0; i < 3; i++ {
		msg, err := consumer.RecvTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), string(msg))
	}
	parts, err := consumer.RecvMultiTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "b", string(parts[1]))

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("device was not aborted")
	}
	require.Eventually(t, func() bool { return lib.Objects() == 0 }, time.Second, time.Millisecond)
}

func TestDeviceTakesSocketLocks(t *testing.T) {
	lib := newLibrary(t)
	ctx := newContext(t, lib)
	producer, front := pipe(t, ctx, Push, Pull)
	back, consumer := pipe(t, ctx, Push, Pull)

	dctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- lib.Device(dctx, front, back) }()
	waitBlocking(t, front)

	for _, held := range []*Socket{front, back} {
		held.mu.Lock()
		require.NoError(t, producer.SendMulti(context.Background(), [][]byte{[]byte("k"), []byte("v")}, 0))
		_, err := consumer.RecvMultiTimeout(context.Background(), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrWouldBlock, "forwarded while socket %d was locked", held.handle)
		held.mu.Unlock()

		parts, err := consumer.RecvMultiTimeout(context.Background(), time.Second)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, "v", string(parts[1]))
	}

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("device was not aborted")
	}
}

func TestDeviceRejects(t *testing.T) {
	lib := newLibrary(t)
	ctx := newContext(t, lib)
	a := newSocket(t, ctx, Push)
	b := newSocket(t, ctx, Pub)

	assert.ErrorIs(t, lib.Device(context.Background(), a, a), transport.EINVAL)
	// neither side can receive
	assert.ErrorIs(t, lib.Device(context.Background(), a, b), transport.EINVAL)
	assert.False(t, a.Blocking())
	assert.False(t, b.Blocking())
}

func TestReceiver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	lib := newLibrary(t, WithConfig(cfg))
	ctx := newContext(t, lib)
	push, pull := pipe(t, ctx, Push, Pull)

	var mu sync.Mutex
	var got []string
	r, err := pull.StartReceiver(context.Background(), func(msg []byte) {
		mu.Lock()
		got = append(got, string(msg))
		mu.Unlock()
	})
	require.NoError(t, err)

	for _, m := range []string{"one", "two", "three"} {
		_, err := push.Send(context.Background(), []byte(m), 0)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, got)

	r.Stop()
	assert.NoError(t, r.Err())
	assert.NoError(t, pull.Check())
}

func TestReceiverEndsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	lib := newLibrary(t, WithConfig(cfg))
	ctx := newContext(t, lib)
	s := newSocket(t, ctx, Pull)

	r, err := s.StartReceiver(context.Background(), func([]byte) {})
	require.NoError(t, err)
	require.NoError(t, ctx.Destroy(context.Background(), true))

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver kept running")
	}
	err = r.Err()
	// the receiver was either blocked (terminated) or between calls (closed)
	assert.True(t, IsTerminated(err) || errors.Is(err, ErrInvalidHandle), "unexpected error %v", err)
	assert.ErrorIs(t, s.Check(), ErrInvalidHandle)
}
