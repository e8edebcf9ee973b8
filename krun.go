// Package krun implements a thermal governor.  It keeps the maximum of a set
// of hardware temperature sensors inside a hysteresis band by suspending and
// resuming the process group of a child process.
package krun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

const (
	// DefaultHotDelay is the poll interval while the child is suspended.  The
	// child cannot change conditions while stopped, so coarse polling is
	// enough.
	DefaultHotDelay = 1 * time.Second
	// DefaultCoolDelay is the poll interval while the child is running.
	DefaultCoolDelay = 100 * time.Millisecond
)

// Governor states.
const (
	StateCool = "cool"
	StateHot  = "hot"
)

// fsm events for governor state transitions.
const (
	evtHeat  = "heat"  // cool -> hot, suspends the child
	evtChill = "chill" // hot -> cool, resumes the child
)

// Thresholds is the hysteresis band.  The child is suspended once the
// temperature exceeds Hot and resumed once it has dropped below Cool.  Two
// distinct thresholds prevent suspend/resume flapping around a single
// boundary.
type Thresholds struct {
	Hot  float64
	Cool float64
}

// Sanity limits for the thresholds.
const (
	MaxHotThreshold  = 90.0
	MinCoolThreshold = 30.0
)

// Validate checks the thresholds against the sanity limits.
func (t Thresholds) Validate() error {
	if t.Hot > MaxHotThreshold {
		return fmt.Errorf("hot threshold %.1f must not exceed %.0f", t.Hot, MaxHotThreshold)
	}
	if t.Cool < MinCoolThreshold {
		return fmt.Errorf("cool threshold %.1f must be at least %.0f", t.Cool, MinCoolThreshold)
	}
	if t.Hot < t.Cool {
		return fmt.Errorf("hot threshold %.1f must be more than cool threshold %.1f", t.Hot, t.Cool)
	}
	return nil
}

// Child is the process under the governor's control.  Suspend and Resume act
// on the child's whole process group, Kill on the direct child only.  TryReap
// must never block.
type Child interface {
	Pid() int
	Suspend() error
	Resume() error
	Kill() error
	TryReap() (status int, exited bool, err error)
}

// Governor drives the control loop: it samples the temperature, applies the
// hysteresis state machine and suspends or resumes the child accordingly.
type Governor struct {
	sampler Sampler
	child   Child
	th      Thresholds

	sm       *fsm.FSM
	lastTemp atomic.Uint64 // float64 bits of the last sample

	options
}

type options struct {
	hotDelay  time.Duration
	coolDelay time.Duration
	notify    io.Writer
	flags     *InterruptFlags
}

// Option is a governor option.
type Option func(*options)

// WithHotDelay sets the poll interval used while the child is suspended.
func WithHotDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.hotDelay = d
		}
	}
}

// WithCoolDelay sets the poll interval used while the child is running.
func WithCoolDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.coolDelay = d
		}
	}
}

// WithNotify sets the writer for the numbered status notices.  Default is
// standard output.
func WithNotify(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.notify = w
		}
	}
}

// WithInterrupts sets the interrupt flags consumed by the control loop.
func WithInterrupts(f *InterruptFlags) Option {
	return func(o *options) {
		if f != nil {
			o.flags = f
		}
	}
}

// New returns a governor for the given child.  It fails if the thresholds are
// invalid.
func New(sampler Sampler, child Child, th Thresholds, opt ...Option) (*Governor, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	opts := options{
		hotDelay:  DefaultHotDelay,
		coolDelay: DefaultCoolDelay,
		notify:    os.Stdout,
		flags:     NewInterruptFlags(),
	}
	for _, o := range opt {
		o(&opts)
	}
	g := &Governor{
		sampler: sampler,
		child:   child,
		th:      th,
		options: opts,
	}
	g.sm = g.makeFSM()
	return g, nil
}

func (g *Governor) makeFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateCool,
		[]fsm.EventDesc{
			{Name: evtHeat, Src: []string{StateCool}, Dst: StateHot},
			{Name: evtChill, Src: []string{StateHot}, Dst: StateCool},
		},
		fsm.Callbacks{
			evtHeat: func(ctx context.Context, e *fsm.Event) {
				t := e.Args[0].(float64)
				fmt.Fprintf(g.notify, "171 Temperature up to %.0f, suspending pid %d\n", t, g.child.Pid())
				if err := g.child.Suspend(); err != nil {
					slog.WarnContext(ctx, "failed to stop child process group", "pid", g.child.Pid(), "error", err)
				}
			},
			evtChill: func(ctx context.Context, e *fsm.Event) {
				t := e.Args[0].(float64)
				fmt.Fprintf(g.notify, "172 Temperature down to %.0f, resuming pid %d\n", t, g.child.Pid())
				if err := g.child.Resume(); err != nil {
					slog.WarnContext(ctx, "failed to continue child process group", "pid", g.child.Pid(), "error", err)
				}
			},
		},
	)
}

// State returns the current governor state, [StateCool] or [StateHot].
func (g *Governor) State() string {
	return g.sm.Current()
}

// Run drives the control loop until the child exits, and returns the child's
// exit status.  A sampling error is returned as is: the caller is expected to
// treat it as fatal, because a governor without a trustworthy temperature
// reading cannot do its job.
func (g *Governor) Run(ctx context.Context) (int, error) {
	for {
		t, err := g.sampler.Sample()
		if err != nil {
			return 0, fmt.Errorf("temperature sampling failed: %w", err)
		}
		g.lastTemp.Store(math.Float64bits(t))

		if g.sm.Current() == StateHot {
			if g.flags.TakeHotKilled() {
				fmt.Fprintln(g.notify, "173 Ctrl-C detected while suspended, will kill child on resume")
			}
			if t < g.th.Cool {
				if err := g.sm.Event(ctx, evtChill, t); err != nil {
					slog.WarnContext(ctx, "state machine rejected transition", "event", evtChill, "error", err)
				}
			}
		} else {
			if g.flags.TakeKilled() {
				fmt.Fprintln(g.notify, "174 Ctrl-C detected, killing child")
				if err := g.child.Kill(); err != nil {
					slog.WarnContext(ctx, "failed to kill child", "pid", g.child.Pid(), "error", err)
				}
			}
			status, exited, err := g.child.TryReap()
			if err != nil {
				slog.WarnContext(ctx, "wait on child failed, assuming it is gone", "pid", g.child.Pid(), "error", err)
				return 0, nil
			}
			if exited {
				return status, nil
			}
			if t > g.th.Hot {
				if err := g.sm.Event(ctx, evtHeat, t); err != nil {
					slog.WarnContext(ctx, "state machine rejected transition", "event", evtHeat, "error", err)
				}
			}
		}
		g.pause()
	}
}

// pause sleeps for the poll interval of the current state.  The sleep is
// deliberately not cut short by context cancellation: the loop exits only by
// reaping the child, and an early return would turn it into a busy spin.
func (g *Governor) pause() {
	d := g.coolDelay
	if g.sm.Current() == StateHot {
		d = g.hotDelay
	}
	time.Sleep(d)
}

// Report writes a one-line status summary, suitable for SIGINFO-style
// reporting.
func (g *Governor) Report(w io.Writer) {
	fmt.Fprintf(w, "state=%s temp=%.1f pid=%d\n",
		g.sm.Current(), math.Float64frombits(g.lastTemp.Load()), g.child.Pid())
}
