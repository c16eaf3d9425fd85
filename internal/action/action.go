// Package action defines how lifecycle operations report progress and gate
// mutating work behind a dry-run switch.
package action

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives progress from lifecycle operations.
type Handler interface {
	// ReportProgress emits informational lines.
	ReportProgress(lines ...string)

	// PerformAction runs fn as a named mutating step. In dry-run mode fn is
	// not called and PerformAction returns nil.
	PerformAction(description string, fn func() error) error

	// PerformedAction records a step that already happened.
	PerformedAction(description string)

	// ShouldPerformActions is false in dry-run mode.
	ShouldPerformActions() bool

	// Interactive reports whether progress ticks should be shown.
	Interactive() bool

	// Tick emits one progress tick during a wait.
	Tick()
}

// LogHandler reports through a zerolog logger and writes progress ticks to
// an optional writer.
type LogHandler struct {
	logger      zerolog.Logger
	progress    io.Writer
	dryRun      bool
	interactive bool

	mu        sync.Mutex
	performed []string
	ticking   bool
}

// Option configures a LogHandler.
type Option func(*LogHandler)

// WithDryRun disables mutating actions.
func WithDryRun(dryRun bool) Option {
	return func(h *LogHandler) { h.dryRun = dryRun }
}

// WithProgress writes progress ticks to w. Ticks are shown only when a
// progress writer is set.
func WithProgress(w io.Writer) Option {
	return func(h *LogHandler) {
		h.progress = w
		h.interactive = w != nil
	}
}

// NewLogHandler creates a handler logging to logger.
func NewLogHandler(logger zerolog.Logger, opts ...Option) *LogHandler {
	h := &LogHandler{logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *LogHandler) ReportProgress(lines ...string) {
	h.endTicks()
	for _, line := range lines {
		h.logger.Info().Msg(line)
	}
}

func (h *LogHandler) PerformAction(description string, fn func() error) error {
	h.endTicks()
	if h.dryRun {
		h.logger.Info().Bool("dry_run", true).Msgf("would %s", description)
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	h.PerformedAction(description)
	return nil
}

func (h *LogHandler) PerformedAction(description string) {
	h.mu.Lock()
	h.performed = append(h.performed, description)
	h.mu.Unlock()
	h.logger.Info().Msg(description)
}

func (h *LogHandler) ShouldPerformActions() bool { return !h.dryRun }

func (h *LogHandler) Interactive() bool { return h.interactive }

func (h *LogHandler) Tick() {
	if !h.interactive {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticking = true
	_, _ = io.WriteString(h.progress, ".")
}

// Performed returns the descriptions of completed actions in order.
func (h *LogHandler) Performed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.performed))
	copy(out, h.performed)
	return out
}

// Summary returns a one-line summary of completed actions.
func (h *LogHandler) Summary() string {
	performed := h.Performed()
	if len(performed) == 0 {
		return "no actions performed"
	}
	return fmt.Sprintf("%d action(s): %s", len(performed), strings.Join(performed, "; "))
}

func (h *LogHandler) endTicks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticking {
		_, _ = io.WriteString(h.progress, "\n")
		h.ticking = false
	}
}
