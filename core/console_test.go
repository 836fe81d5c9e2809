package core

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/encodeous/lsnet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConsole_Commands(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.Stop()
	a := h.Router(rA)
	b := h.Router(rB)
	c := h.Router(rC)
	ctx := context.Background()

	out := &bytes.Buffer{}
	con := NewConsole(a, out)
	exec := func(line string) error {
		out.Reset()
		quit, err := con.Exec(ctx, line)
		assert.False(t, quit)
		return err
	}

	target := func(e *Engine) string {
		return fmt.Sprintf("%s %d %s", e.Self.ProcessAddr.Addr(), e.Self.ProcessAddr.Port(), e.Self.Addr)
	}
	require.NoError(t, exec("attach "+target(b)))
	assert.Contains(t, out.String(), "attached on slot 0")
	require.NoError(t, exec("start"))
	require.NoError(t, exec("connect "+target(c)))
	assert.Contains(t, out.String(), "attached on slot 1")

	require.NoError(t, exec("neighbors"))
	assert.Contains(t, out.String(), rB.String())
	assert.Contains(t, out.String(), rC.String())
	assert.Contains(t, out.String(), "TWO_WAY")

	require.Eventually(t, func() bool {
		return knows(a, rA, rB, rC)
	}, waitFor, tick)
	require.NoError(t, exec("database"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "192.168.1.1("))

	require.NoError(t, exec("detect "+rC.String()))
	assert.Equal(t, "192.168.1.1 -> 192.168.1.3\n", out.String())
	assert.ErrorIs(t, exec("detect "+rA.String()), state.ErrSelfPath)

	require.NoError(t, exec("routes"))
	assert.Contains(t, out.String(), rC.String())

	require.NoError(t, exec("disconnect 1"))
	assert.True(t, a.Neighbors()[1].Free)
	assert.ErrorIs(t, exec("disconnect 1"), state.ErrSlotEmpty)
	assert.Error(t, exec("disconnect one"))

	assert.ErrorIs(t, exec("attach "+target(b)), state.ErrAlreadyAttached)
	assert.Error(t, exec("attach 127.0.0.1 99999 192.168.1.9"))
	assert.Error(t, exec("attach 127.0.0.1"))
	assert.Error(t, exec("Y"), "nothing to answer")
	assert.ErrorIs(t, exec("frobnicate"), ErrUnknownCommand)
	require.NoError(t, exec(""))
	require.NoError(t, exec("help"))
	assert.Contains(t, out.String(), "detect")

	quit, err := con.Exec(ctx, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestConsole_AnswersAttachRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.Stop()
	a := h.Router(rA)
	b := h.Router(rB, manual)

	res := make(chan error, 1)
	go func() {
		_, err := a.Attach(context.Background(), b.Self.ProcessAddr, rB)
		res <- err
	}()

	out := &bytes.Buffer{}
	con := NewConsole(b, out)
	req := <-b.PendingAttach()
	con.current = req
	_, err := con.Exec(context.Background(), "pending")
	require.NoError(t, err)
	assert.Contains(t, out.String(), req.Id.String())
	assert.Contains(t, out.String(), rA.String())

	quit, err := con.Exec(context.Background(), "y")
	require.NoError(t, err)
	assert.False(t, quit)
	require.NoError(t, <-res)
	assert.Equal(t, rA, b.Neighbors()[0].Peer.Addr)
}

func TestConsole_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t)
	defer h.Stop()
	a := h.Router(rA)

	out := &bytes.Buffer{}
	err := NewConsole(a, out).Run(context.Background(), strings.NewReader("help\nneighbors\nquit\nneighbors\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "SLOT"), "commands after quit must not run")

	out.Reset()
	err = NewConsole(a, out).Run(context.Background(), strings.NewReader("bogus\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "unknown command")
}
