// Package session runs the interactive command loop and the background pulse
// repeater.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/danwillm/openvr-haptics-tester/command"
	"github.com/danwillm/openvr-haptics-tester/haptics"
)

// Vibrator dispatches one-shot vibrations.
type Vibrator interface {
	Dispatch(ctx context.Context, p command.Pulse) error
}

// Options configures a Controller.
type Options struct {
	Variant command.Variant
	// Vibrator is used by the action variant.
	Vibrator Vibrator
	// Firer is used by the pulse variant's repeater.
	Firer Firer
	// Defaults seeds the repeater config.
	Defaults RepeatConfig
	Logger   *log.Logger
}

// Controller owns the parser, the dispatchers and the repeater state.
type Controller struct {
	parser   *command.Parser
	vibrator Vibrator
	firer    Firer
	state    *State
	out      io.Writer
	logger   *log.Logger
}

// New returns a controller writing operator output to out.
func New(opts Options, out io.Writer) *Controller {
	if out == nil {
		out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		parser:   command.NewParser(opts.Variant),
		vibrator: opts.Vibrator,
		firer:    opts.Firer,
		state:    NewState(opts.Defaults),
		out:      out,
		logger:   logger,
	}
}

// State exposes the repeater state.
func (c *Controller) State() *State {
	return c.state
}

// PrintUsage writes the command banner.
func (c *Controller) PrintUsage() {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("quit\n")
	b.WriteString("help\n")
	if c.parser.Variant() == command.VariantPulse {
		b.WriteString("start\n")
		b.WriteString("stop\n")
		b.WriteString("status\n")
		b.WriteString("Usage:\n")
		b.WriteString("hand(s)+duration(microseconds)+interval(milliseconds)\n")
		b.WriteString("Example:\n")
		b.WriteString("left,right+1000+1000\n")
		b.WriteString("left+2000+10\n")
	} else {
		b.WriteString("Usage:\n")
		b.WriteString("hand(s)+duration(seconds)+frequency(hz)+amplitude(0 - 1)\n")
		b.WriteString("Example:\n")
		b.WriteString("left,right+1+4+1\n")
		b.WriteString("right+0.5+10+0.5\n")
	}
	io.WriteString(c.out, b.String())
}

// Run prints the banner and processes lines from in until quit, end of input
// or ctx is done. A running repeater is stopped before Run returns.
func (c *Controller) Run(ctx context.Context, in io.Reader) error {
	c.PrintUsage()
	fmt.Fprintln(c.out, "waiting for input")

	done := make(chan struct{})
	defer close(done)
	lines, readErr := readLines(in, done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Printf("session: %v, shutting down", ctx.Err())
			c.shutdown()
			return nil
		case line, ok := <-lines:
			if !ok {
				c.shutdown()
				if err := <-readErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
			if c.Handle(ctx, line) {
				return nil
			}
		}
	}
}

// readLines scans in on its own goroutine so a blocked read never holds up
// the loop's shutdown path.
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// Handle processes one input line and reports whether the loop should exit.
func (c *Controller) Handle(ctx context.Context, line string) bool {
	cmd, err := c.parser.Parse(line)
	if err != nil {
		c.reportParseError(err)
		return false
	}

	for _, name := range cmd.Rejected {
		fmt.Fprintf(c.out, "unrecognized hand: %s\n", name)
	}

	switch cmd.Kind {
	case command.KindQuit:
		c.shutdown()
		return true
	case command.KindHelp:
		c.PrintUsage()
	case command.KindStart:
		c.start(ctx)
	case command.KindStop:
		if c.state.Stop() {
			c.logger.Printf("session: repeater stopped")
			fmt.Fprintln(c.out, "stopped")
		} else {
			fmt.Fprintln(c.out, "not running")
		}
	case command.KindStatus:
		c.printStatus()
	case command.KindPulse:
		if err := c.vibrator.Dispatch(ctx, cmd.Pulse); err != nil {
			fmt.Fprintln(c.out, err)
		}
	case command.KindRepeat:
		c.state.Configure(RepeatConfig{
			DurationMicros: cmd.Repeat.DurationMicros,
			IntervalMillis: cmd.Repeat.IntervalMillis,
			Hands:          cmd.Repeat.Hands,
		})
		c.logger.Printf("session: repeater configured hands=%v duration=%dus interval=%dms",
			cmd.Repeat.Hands, cmd.Repeat.DurationMicros, cmd.Repeat.IntervalMillis)
		if c.state.Start(ctx, c.firer) {
			c.logger.Printf("session: repeater started")
			fmt.Fprintln(c.out, "started")
		} else {
			fmt.Fprintln(c.out, "updated")
		}
	}
	return false
}

func (c *Controller) start(ctx context.Context) {
	if !c.state.Start(ctx, c.firer) {
		fmt.Fprintln(c.out, "already running")
		return
	}
	c.logger.Printf("session: repeater started")
	fmt.Fprintln(c.out, "started")
}

func (c *Controller) shutdown() {
	if c.state.Stop() {
		c.logger.Printf("session: repeater stopped")
	}
}

func (c *Controller) printStatus() {
	cfg := c.state.Snapshot()
	state := "idle"
	if c.state.Running() {
		state = "running"
	}
	names := make([]string, len(cfg.Hands))
	for i, h := range cfg.Hands {
		names[i] = h.String()
	}
	fmt.Fprintf(c.out, "%s hands=%s duration=%dus interval=%dms\n",
		state, strings.Join(names, ","), cfg.DurationMicros, cfg.IntervalMillis)
}

func (c *Controller) reportParseError(err error) {
	switch {
	case errors.Is(err, command.ErrInvalidInput):
		fmt.Fprintln(c.out, "invalid input!")
	case errors.Is(err, command.ErrNoHands):
		fmt.Fprintln(c.out, "no hands!")
	default:
		fmt.Fprintf(c.out, "invalid input! %v\n", err)
	}
}

// compile-time checks for the dispatchers main wires in.
var (
	_ Vibrator = (*haptics.ActionDispatcher)(nil)
	_ Firer    = (*haptics.PulseDispatcher)(nil)
)
