// Package log provides pipeline progress output on top of zerolog: a step
// logger for the run's major phases and a counter for long loops like the
// backtest cutoffs.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Mode selects how progress is rendered.
type Mode string

const (
	// ModeAuto renders an in-place bar on a TTY and falls back to plain
	// lines when output is piped.
	ModeAuto  Mode = "auto"
	ModePlain Mode = "plain"
	ModeJSON  Mode = "json"
)

// ParseMode validates a --progress flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModePlain, ModeJSON:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid progress mode %q (want auto, plain, or json)", s)
	}
}

// resolve maps auto to plain when stdout is not a terminal.
func (m Mode) resolve() Mode {
	if m == ModeAuto {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return ModeAuto
		}
		return ModePlain
	}
	return m
}

// StepLogger announces the pipeline's phases. In json mode all output goes
// through zerolog; plain and auto modes additionally print human lines.
type StepLogger struct {
	mode     Mode
	steps    []string
	current  int
	started  time.Time
	stepFrom time.Time
}

// NewStepLogger returns a logger over the named ordered steps.
func NewStepLogger(mode Mode, steps []string) *StepLogger {
	return &StepLogger{
		mode:    mode.resolve(),
		steps:   steps,
		current: -1,
		started: time.Now(),
	}
}

// StartStep announces the next phase. stepName must be one of the configured
// steps; unknown names are logged and ignored.
func (sl *StepLogger) StartStep(stepName string) {
	idx := -1
	for i, step := range sl.steps {
		if step == stepName {
			idx = i
			break
		}
	}
	if idx == -1 {
		log.Warn().Str("step", stepName).Msg("Unknown pipeline step")
		return
	}

	sl.current = idx
	sl.stepFrom = time.Now()

	log.Info().
		Str("step", stepName).
		Int("step_number", idx+1).
		Int("total_steps", len(sl.steps)).
		Msg("Starting pipeline step")

	if sl.mode != ModeJSON {
		fmt.Printf("[%d/%d] %s\n", idx+1, len(sl.steps), stepName)
	}
}

// CompleteStep logs the current phase's duration.
func (sl *StepLogger) CompleteStep() {
	if sl.current < 0 {
		return
	}
	log.Info().
		Str("step", sl.steps[sl.current]).
		Dur("duration", time.Since(sl.stepFrom)).
		Msg("Pipeline step completed")
}

// Finish logs the total run duration.
func (sl *StepLogger) Finish() {
	total := time.Since(sl.started)
	log.Info().Dur("total_duration", total).Msg("Pipeline completed")
	if sl.mode != ModeJSON {
		fmt.Printf("done in %v\n", total.Round(time.Millisecond))
	}
}

// Fail logs the failing phase and reason.
func (sl *StepLogger) Fail(reason string) {
	log.Error().
		Str("failed_step", sl.currentStepName()).
		Str("reason", reason).
		Msg("Pipeline failed")
	if sl.mode != ModeJSON {
		fmt.Printf("failed at %s: %s\n", sl.currentStepName(), reason)
	}
}

func (sl *StepLogger) currentStepName() string {
	if sl.current >= 0 && sl.current < len(sl.steps) {
		return sl.steps[sl.current]
	}
	return "unknown"
}

// Counter tracks progress through a long loop of uniform items. Safe for
// concurrent Increment calls; rendering is throttled to one line per 200ms.
type Counter struct {
	mu       sync.Mutex
	mode     Mode
	name     string
	total    int
	current  int
	started  time.Time
	lastDraw time.Time
}

// NewCounter returns a counter over total items.
func NewCounter(mode Mode, name string, total int) *Counter {
	return &Counter{
		mode:    mode.resolve(),
		name:    name,
		total:   total,
		started: time.Now(),
	}
}

// Increment advances by one item and redraws if due.
func (c *Counter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current++
	if c.mode == ModeJSON {
		return
	}
	if time.Since(c.lastDraw) < 200*time.Millisecond && c.current != c.total {
		return
	}
	c.lastDraw = time.Now()

	if c.mode == ModeAuto {
		fmt.Printf("\r\033[K%s %s %d/%d", c.name, c.bar(), c.current, c.total)
	} else {
		fmt.Printf("%s %d/%d\n", c.name, c.current, c.total)
	}
}

// Finish terminates the in-place line and logs the loop duration.
func (c *Counter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeAuto {
		fmt.Print("\n")
	}
	log.Info().
		Str("name", c.name).
		Int("items", c.total).
		Dur("duration", time.Since(c.started)).
		Msg("Loop completed")
}

func (c *Counter) bar() string {
	const width = 20
	filled := 0
	if c.total > 0 {
		filled = width * c.current / c.total
	}
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < width; i++ {
		if i < filled {
			b.WriteString("█")
		} else {
			b.WriteString("░")
		}
	}
	b.WriteString("]")
	return b.String()
}
