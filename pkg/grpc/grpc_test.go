package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoParams struct {
	Text string `json:"text"`
}

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer()
	s.Register("Echo.Say", func(_ context.Context, req json.RawMessage) (any, error) {
		var p echoParams
		if err := json.Unmarshal(req, &p); err != nil {
			return nil, err
		}
		return echoParams{Text: "echo: " + p.Text}, nil
	})
	s.Register("Echo.Fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	s.Register("Echo.Slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return echoParams{Text: "late"}, nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.ServeListener(ln) }()
	t.Cleanup(s.Stop)
	return s
}

func TestCall_RoundTrip(t *testing.T) {
	s := startServer(t)
	require.Equal(t, 3, s.MethodCount())

	c, err := Dial(s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var out echoParams
	require.NoError(t, c.Call("Echo.Say", echoParams{Text: "hi"}, &out))
	assert.Equal(t, "echo: hi", out.Text)
}

func TestCall_RemoteErrorsKeepConnection(t *testing.T) {
	s := startServer(t)
	c, err := Dial(s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	err = c.Call("Echo.Fail", nil, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)

	err = c.Call("Echo.Missing", nil, nil)
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "unknown method")

	var out echoParams
	require.NoError(t, c.Call("Echo.Say", echoParams{Text: "still here"}, &out))
	assert.Equal(t, "echo: still here", out.Text)
}

func TestCallContext_DeadlineAndRedial(t *testing.T) {
	s := startServer(t)
	c := NewLazy(s.Addr().String(), time.Second)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.CallContext(ctx, "Echo.Slow", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var out echoParams
	require.NoError(t, c.CallContext(context.Background(), "Echo.Say", echoParams{Text: "again"}, &out))
	assert.Equal(t, "echo: again", out.Text)
}

func TestCallContext_Cancelled(t *testing.T) {
	s := startServer(t)
	c := NewLazy(s.Addr().String(), time.Second)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.CallContext(ctx, "Echo.Say", echoParams{}, nil), context.Canceled)
}

func TestCall_Concurrent(t *testing.T) {
	s := startServer(t)
	c, err := Dial(s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out echoParams
			if err := c.Call("Echo.Say", echoParams{Text: "x"}, &out); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClose(t *testing.T) {
	s := startServer(t)
	c, err := Dial(s.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Call("Echo.Say", nil, nil), ErrClosed)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialContext(context.Background(), addr, 200*time.Millisecond)
	assert.Error(t, err)
}
