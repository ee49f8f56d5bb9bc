package playback

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func waitDone(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestExecEngine_TerminateLongRunning(t *testing.T) {
	requireBinary(t, "sleep")
	e := &ExecEngine{Player: "sleep"}

	p, err := e.Spawn("30", "")
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	require.NoError(t, p.Terminate())
	waitDone(t, p)
	assert.Error(t, p.Err())
	assert.NoError(t, p.Kill(), "signalling an exited process is not an error")
}

func TestExecEngine_ExitStatus(t *testing.T) {
	requireBinary(t, "true")
	requireBinary(t, "false")

	ok, err := (&ExecEngine{Player: "true"}).Spawn("x.wav", "plughw:2,0")
	require.NoError(t, err)
	waitDone(t, ok)
	assert.NoError(t, ok.Err())

	bad, err := (&ExecEngine{Player: "false", MaxFileTime: 20}).Spawn("x.wav", "plughw:2,0")
	require.NoError(t, err)
	waitDone(t, bad)
	var exitErr *exec.ExitError
	assert.ErrorAs(t, bad.Err(), &exitErr)
}

func TestExecEngine_MissingPlayer(t *testing.T) {
	_, err := (&ExecEngine{Player: "definitely-not-a-player"}).Spawn("x.wav", "")
	assert.Error(t, err)
}
