package krun

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errScriptDone = errors.New("script exhausted")

// scriptSampler plays back a fixed temperature sequence and fails once it
// runs out, which conveniently terminates governor loops that never reap.
type scriptSampler struct {
	temps    []float64
	i        int
	onSample func(iter int)
}

func (s *scriptSampler) Sample() (float64, error) {
	if s.i >= len(s.temps) {
		return 0, errScriptDone
	}
	t := s.temps[s.i]
	if s.onSample != nil {
		s.onSample(s.i)
	}
	s.i++
	return t, nil
}

// fakeChild simulates process group behaviour and reap timing.
type fakeChild struct {
	pid       int
	suspends  int
	resumes   int
	kills     int
	exited    bool
	status    int
	killErr   error
	reapErr   error
	killExits bool // Kill marks the child as exited with the SIGKILL status
}

func (c *fakeChild) Pid() int { return c.pid }

func (c *fakeChild) Suspend() error {
	c.suspends++
	return nil
}

func (c *fakeChild) Resume() error {
	c.resumes++
	return nil
}

func (c *fakeChild) Kill() error {
	c.kills++
	if c.killErr != nil {
		return c.killErr
	}
	if c.killExits {
		c.exited = true
		c.status = 9
	}
	return nil
}

func (c *fakeChild) TryReap() (int, bool, error) {
	if c.reapErr != nil {
		return 0, false, c.reapErr
	}
	return c.status, c.exited, nil
}

func testGovernor(t *testing.T, s Sampler, c Child, f *InterruptFlags) (*Governor, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts := []Option{WithHotDelay(0), WithCoolDelay(0), WithNotify(&buf)}
	if f != nil {
		opts = append(opts, WithInterrupts(f))
	}
	g, err := New(s, c, Thresholds{Hot: 75, Cool: 60}, opts...)
	require.NoError(t, err)
	return g, &buf
}

func notices(buf *bytes.Buffer) []string {
	var nn []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" {
			nn = append(nn, line)
		}
	}
	return nn
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{name: "hot too high", th: Thresholds{Hot: 91, Cool: 50}, wantErr: true},
		{name: "cool too low", th: Thresholds{Hot: 80, Cool: 20}, wantErr: true},
		{name: "inverted band", th: Thresholds{Hot: 50, Cool: 60}, wantErr: true},
		{name: "valid", th: Thresholds{Hot: 70, Cool: 50}, wantErr: false},
		{name: "limits are inclusive", th: Thresholds{Hot: 90, Cool: 30}, wantErr: false},
		{name: "degenerate band", th: Thresholds{Hot: 60, Cool: 60}, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGovernor_suspendsOncePerTransition(t *testing.T) {
	child := &fakeChild{pid: 42}
	s := &scriptSampler{temps: []float64{80, 80, 80}}
	g, buf := testGovernor(t, s, child, nil)

	_, err := g.Run(context.Background())
	require.ErrorIs(t, err, errScriptDone)

	assert.Equal(t, 1, child.suspends, "suspend must be issued once, not on every hot iteration")
	assert.Equal(t, 0, child.resumes)
	assert.Equal(t, StateHot, g.State())
	assert.Equal(t, []string{"171 Temperature up to 80, suspending pid 42"}, notices(buf))
}

func TestGovernor_resumesOncePerTransition(t *testing.T) {
	child := &fakeChild{pid: 42}
	s := &scriptSampler{temps: []float64{80, 50, 50}}
	g, buf := testGovernor(t, s, child, nil)

	_, err := g.Run(context.Background())
	require.ErrorIs(t, err, errScriptDone)

	assert.Equal(t, 1, child.suspends)
	assert.Equal(t, 1, child.resumes)
	assert.Equal(t, StateCool, g.State())
	assert.Equal(t, []string{
		"171 Temperature up to 80, suspending pid 42",
		"172 Temperature down to 50, resuming pid 42",
	}, notices(buf))
}

func TestGovernor_hysteresisBandIsSticky(t *testing.T) {
	t.Run("cool stays cool inside the band", func(t *testing.T) {
		child := &fakeChild{pid: 42}
		s := &scriptSampler{temps: []float64{70, 65, 61, 74, 60, 75}}
		g, buf := testGovernor(t, s, child, nil)

		_, err := g.Run(context.Background())
		require.ErrorIs(t, err, errScriptDone)

		assert.Zero(t, child.suspends)
		assert.Zero(t, child.resumes)
		assert.Equal(t, StateCool, g.State())
		assert.Empty(t, notices(buf))
	})
	t.Run("hot stays hot inside the band", func(t *testing.T) {
		child := &fakeChild{pid: 42}
		s := &scriptSampler{temps: []float64{80, 70, 62, 60}}
		g, _ := testGovernor(t, s, child, nil)

		_, err := g.Run(context.Background())
		require.ErrorIs(t, err, errScriptDone)

		assert.Equal(t, 1, child.suspends)
		assert.Zero(t, child.resumes, "60 is not below the cool threshold")
		assert.Equal(t, StateHot, g.State())
	})
}

func TestGovernor_samplingFailureIsFatal(t *testing.T) {
	child := &fakeChild{pid: 42}
	g, _ := testGovernor(t, &scriptSampler{}, child, nil)

	_, err := g.Run(context.Background())
	require.ErrorIs(t, err, errScriptDone)
	assert.Zero(t, child.kills)
}

func TestGovernor_propagatesChildExitStatus(t *testing.T) {
	child := &fakeChild{pid: 42}
	s := &scriptSampler{temps: []float64{40, 40, 40}}
	s.onSample = func(iter int) {
		if iter == 1 {
			child.exited = true
			child.status = 3
		}
	}
	g, buf := testGovernor(t, s, child, nil)

	status, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Empty(t, notices(buf))
}

func TestGovernor_reapFailureEndsLoop(t *testing.T) {
	child := &fakeChild{pid: 42, reapErr: errors.New("waitid: no such process")}
	g, _ := testGovernor(t, &scriptSampler{temps: []float64{40}}, child, nil)

	status, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status)
}

func TestGovernor_interruptWhileCool(t *testing.T) {
	child := &fakeChild{pid: 42, killExits: true}
	flags := NewInterruptFlags()
	flags.Raise()
	s := &scriptSampler{temps: []float64{40, 40}}
	g, buf := testGovernor(t, s, child, flags)

	status, err := g.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, child.kills)
	assert.Equal(t, 9, status, "final status is the child's killed-signal status")
	assert.Equal(t, []string{"174 Ctrl-C detected, killing child"}, notices(buf))
}

func TestGovernor_interruptWhileHotDefersKill(t *testing.T) {
	child := &fakeChild{pid: 42, killExits: true}
	flags := NewInterruptFlags()
	s := &scriptSampler{temps: []float64{80, 70, 70, 55, 55}}
	s.onSample = func(iter int) {
		if iter == 1 {
			flags.Raise() // the operator hits Ctrl-C while the child is suspended
		}
	}
	g, buf := testGovernor(t, s, child, flags)

	status, err := g.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, child.kills, "kill must wait for the child to be resumed")
	assert.Equal(t, 1, child.resumes)
	assert.Equal(t, 9, status)
	assert.Equal(t, []string{
		"171 Temperature up to 80, suspending pid 42",
		"173 Ctrl-C detected while suspended, will kill child on resume",
		"172 Temperature down to 55, resuming pid 42",
		"174 Ctrl-C detected, killing child",
	}, notices(buf))
}

func TestGovernor_endToEnd(t *testing.T) {
	// Thresholds (75, 60), sequence 70, 76, 76, 58, 58, Ctrl-C while hot.
	child := &fakeChild{pid: 1000, killExits: true}
	flags := NewInterruptFlags()
	s := &scriptSampler{temps: []float64{70, 76, 76, 58, 58}}
	s.onSample = func(iter int) {
		if iter == 2 {
			flags.Raise()
		}
	}
	g, buf := testGovernor(t, s, child, flags)

	status, err := g.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, status)
	assert.Equal(t, []string{
		"171 Temperature up to 76, suspending pid 1000",
		"173 Ctrl-C detected while suspended, will kill child on resume",
		"172 Temperature down to 58, resuming pid 1000",
		"174 Ctrl-C detected, killing child",
	}, notices(buf))
}

func TestGovernor_cancelledContextKeepsPace(t *testing.T) {
	child := &fakeChild{pid: 42}
	s := &scriptSampler{temps: []float64{40, 40, 40}}
	s.onSample = func(iter int) {
		if iter == 2 {
			child.exited = true
		}
	}
	var buf bytes.Buffer
	g, err := New(s, child, Thresholds{Hot: 75, Cool: 60},
		WithHotDelay(10*time.Millisecond),
		WithCoolDelay(10*time.Millisecond),
		WithNotify(&buf),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	status, err := g.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond,
		"polling must keep its pace when the context is cancelled")
}

func TestGovernor_Report(t *testing.T) {
	child := &fakeChild{pid: 42}
	g, _ := testGovernor(t, &scriptSampler{temps: []float64{47}}, child, nil)
	_, err := g.Run(context.Background())
	require.ErrorIs(t, err, errScriptDone)

	var buf bytes.Buffer
	g.Report(&buf)
	assert.Equal(t, "state=cool temp=47.0 pid=42\n", buf.String())
}

func TestInterruptFlags(t *testing.T) {
	f := NewInterruptFlags()
	assert.False(t, f.TakeKilled())
	assert.False(t, f.TakeHotKilled())

	f.Raise()
	assert.True(t, f.TakeHotKilled(), "hot flag is set by Raise")
	assert.False(t, f.TakeHotKilled(), "take clears the hot flag")
	assert.True(t, f.TakeKilled(), "taking the hot flag must not clear the pending flag")
	assert.False(t, f.TakeKilled())

	f.Raise()
	f.Raise()
	assert.True(t, f.TakeKilled(), "repeated interrupts collapse into one pending flag")
	assert.False(t, f.TakeKilled())
}
