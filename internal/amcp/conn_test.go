// SPDX-License-Identifier: MIT
package amcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestConn(t *testing.T) (*Conn, *MockEngine) {
	t.Helper()
	m, err := NewMockEngine()
	require.NoError(t, err)
	c := Dial(m.Addr())
	t.Cleanup(func() {
		c.CloseWait(2 * time.Second)
		m.Close()
	})
	return c, m
}

func TestSendBatch(t *testing.T) {
	c, m := newTestConn(t)

	var b Batch
	b.Add(Play(1, 10), MixerOpacity(1, 10, 1, 0))
	replies, err := c.Send(context.Background(), &b)
	require.NoError(t, err)
	require.Len(t, replies, 4) // DEFER + 2 commands + RESUME
	for _, r := range replies {
		require.True(t, r.OK())
	}

	want := []string{"DEFER", "PLAY 1-10", "MIXER 1-10 OPACITY 1 0", "RESUME"}
	if diff := cmp.Diff(want, m.Lines()); diff != "" {
		t.Errorf("wire mismatch (-want +got):\n%s", diff)
	}
}

func TestSendEmptyBatch(t *testing.T) {
	c, m := newTestConn(t)
	replies, err := c.Send(context.Background(), &Batch{})
	require.NoError(t, err)
	require.Nil(t, replies)
	require.Empty(t, m.Lines())
}

func TestQueryFrame(t *testing.T) {
	c, m := newTestConn(t)
	m.SetFrame(1234)

	r, err := c.Query(context.Background(), CallFrame(1, 10))
	require.NoError(t, err)
	v, ok := r.Int()
	require.True(t, ok)
	require.Equal(t, int64(1234), v)
}

func TestRemoteErrorKeepsSessionUp(t *testing.T) {
	c, m := newTestConn(t)

	m.Respond(func(line string) (string, bool) {
		if strings.HasPrefix(line, "PLAY") {
			return "501 PLAY FAILED", true
		}
		return "", false
	})

	var b Batch
	b.Add(Play(1, 10))
	_, err := c.Send(context.Background(), &b)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRemote))
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 501, re.Code)

	// A remote error must not drop the connection: the next batch goes out
	// immediately on the same session.
	m.Respond(nil)
	var b2 Batch
	b2.Add(Pause(1, 10))
	_, err = c.Send(context.Background(), &b2)
	require.NoError(t, err)
}

func TestProtocolErrorRedials(t *testing.T) {
	c, m := newTestConn(t)

	m.Respond(func(string) (string, bool) { return "garbage", true })
	var b Batch
	b.Add(Play(1, 10))
	_, err := c.Send(context.Background(), &b)
	require.True(t, errors.Is(err, ErrProtocol))

	// The session drops and redials; the next batch succeeds after backoff.
	m.Respond(nil)
	var b2 Batch
	b2.Add(Play(1, 10))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Send(ctx, &b2)
	require.NoError(t, err)
}

func TestReconnectAfterDrop(t *testing.T) {
	c, m := newTestConn(t)

	var b Batch
	b.Add(Play(1, 10))
	_, err := c.Send(context.Background(), &b)
	require.NoError(t, err)

	m.DropConnections()

	// The first exchange on the dead socket surfaces a NetworkError.
	var failed Batch
	failed.Add(Pause(1, 10))
	_, err = c.Send(context.Background(), &failed)
	require.True(t, errors.Is(err, ErrNetwork), "got %v", err)

	// After the backoff the session is live again.
	var b2 Batch
	b2.Add(Play(1, 10))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Send(ctx, &b2)
	require.NoError(t, err)
}

func TestBatchesNeverInterleave(t *testing.T) {
	c, m := newTestConn(t)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var b Batch
			b.Add(LoadBG(i+1, 10, fmt.Sprintf("clip-%d.mov", i), 0, true), Play(i+1, 10))
			_, err := c.Send(context.Background(), &b)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Every envelope must appear contiguously on the wire: a DEFER is always
	// followed by that batch's commands and its RESUME before the next DEFER.
	lines := m.Lines()
	require.Len(t, lines, n*4)
	for i := 0; i < len(lines); i += 4 {
		require.Equal(t, "DEFER", lines[i])
		require.Equal(t, "RESUME", lines[i+3])
		wantClip := strings.SplitN(lines[i+1], " ", 3)[1] // channel-layer of LOADBG
		require.Equal(t, wantClip, strings.SplitN(lines[i+2], " ", 3)[1])
	}
}

func TestSendAfterClose(t *testing.T) {
	m, err := NewMockEngine()
	require.NoError(t, err)
	defer m.Close()

	c := Dial(m.Addr())
	c.CloseWait(2 * time.Second)

	var b Batch
	b.Add(Play(1, 10))
	_, err = c.Send(context.Background(), &b)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDialFailureFailsBatch(t *testing.T) {
	// Nothing listens here; the dial fails and the queued batch fails with
	// a NetworkError rather than hanging.
	c := Dial("127.0.0.1:1")
	defer c.CloseWait(2 * time.Second)

	var b Batch
	b.Add(Play(1, 10))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Send(ctx, &b)
	require.True(t, errors.Is(err, ErrNetwork), "got %v", err)
}

func TestPoolSharesConnections(t *testing.T) {
	m, err := NewMockEngine()
	require.NoError(t, err)
	defer m.Close()

	p := NewPool()
	defer p.CloseAll(2 * time.Second)

	c1 := p.Get(m.Addr())
	c2 := p.Get(m.Addr())
	require.Same(t, c1, c2)
}

func TestPoolPrune(t *testing.T) {
	m1, err := NewMockEngine()
	require.NoError(t, err)
	defer m1.Close()
	m2, err := NewMockEngine()
	require.NoError(t, err)
	defer m2.Close()

	p := NewPool()
	defer p.CloseAll(2 * time.Second)

	c1 := p.Get(m1.Addr())
	p.Get(m2.Addr())
	require.Len(t, p.States(), 2)

	p.Prune(map[string]struct{}{m1.Addr(): {}})
	states := p.States()
	require.Len(t, states, 1)
	require.Contains(t, states, m1.Addr())

	// The kept connection still works.
	var b Batch
	b.Add(Play(1, 10))
	_, err = c1.Send(context.Background(), &b)
	require.NoError(t, err)
}
