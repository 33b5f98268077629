// Package conversation drives one submitted message through merge, trim,
// stream and persist.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/confidant/internal/chat"
	"github.com/ent0n29/confidant/internal/completion"
	"github.com/ent0n29/confidant/internal/history"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/profile"
	"github.com/ent0n29/confidant/internal/window"
)

const errorReplyPrefix = "An error occurred: "

type ContextAssembler interface {
	AssembleRecentContext(ctx context.Context, limit int) []chat.Turn
}

type Saver interface {
	Save(ctx context.Context, turns []chat.Turn, key string) string
}

type Completer interface {
	StreamCompletion(ctx context.Context, msgs []chat.Message, onFragment completion.DeltaHandler) error
}

type Config struct {
	HistoryBudget      int
	RequestBudget      int
	RecentContextLimit int
}

type Options struct {
	Assembler  ContextAssembler
	Store      Saver
	Trimmer    *window.Trimmer
	Builder    *window.PromptBuilder
	Completion Completer
	Profile    profile.Profile
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

type Controller struct {
	opts   Options
	cfg    Config
	logger *slog.Logger
}

func NewController(opts Options, cfg Config) *Controller {
	if cfg.RecentContextLimit <= 0 {
		cfg.RecentContextLimit = history.DefaultRecentLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		cfg:    cfg,
		logger: logger.With("component", "conversation"),
	}
}

func (c *Controller) Profile() profile.Profile { return c.opts.Profile }

// StartSession opens a session whose visible history is the recent stored
// context.
func (c *Controller) StartSession(ctx context.Context) *Session {
	return &Session{
		ID:      uuid.NewString(),
		State:   StateIdle,
		History: c.opts.Assembler.AssembleRecentContext(ctx, c.cfg.RecentContextLimit),
	}
}

// Clear empties the visible history. The record key is kept so the next
// turn still writes to the same record.
func (c *Controller) Clear(s *Session) {
	s.History = []chat.Turn{}
	s.State = StateIdle
}

// turnFailure is a failure inside the turn that is recorded as the reply
// instead of being returned.
type turnFailure struct {
	cause any
}

func (f *turnFailure) Error() string { return fmt.Sprint(f.cause) }

// Submit runs one turn. A blank message emits the unchanged history and
// does nothing else. The turn is persisted only when the stream ends
// naturally; if ctx is cancelled or onUpdate rejects a streaming snapshot the
// turn is dropped and that error is returned. Any other failure becomes an
// error reply appended to the session's own history. Once a turn is recorded
// Submit returns nil even if the final snapshot is rejected.
func (c *Controller) Submit(ctx context.Context, s *Session, message string, onUpdate UpdateFunc) error {
	if onUpdate == nil {
		onUpdate = func(Snapshot) error { return nil }
	}
	if strings.TrimSpace(message) == "" {
		return onUpdate(Snapshot{State: s.State, History: chat.Clone(s.History), Key: s.Key, Final: true})
	}

	started := time.Now()
	trimmed, reply, err := c.generate(ctx, s, message, started, onUpdate)

	var failure *turnFailure
	switch {
	case errors.As(err, &failure):
		c.logger.Error("turn failed", "session_id", s.ID, "err", failure)
		c.opts.Metrics.CountTurn("error")
		s.History = append(chat.Clone(s.History), chat.NewTurn(message, errorReplyPrefix+failure.Error()))
		s.State = StateIdle
		c.emitFinal(s, onUpdate)
		return nil
	case err != nil:
		c.logger.Info("turn abandoned", "session_id", s.ID, "err", err)
		c.opts.Metrics.CountTurn("cancelled")
		s.State = StateIdle
		return err
	}

	s.State = StatePersisting
	full := append(trimmed, chat.NewTurn(message, reply))
	persistStart := time.Now()
	// a naturally completed turn is saved even if the caller went away
	// after the last fragment
	if key := c.opts.Store.Save(context.WithoutCancel(ctx), full, s.Key); key != "" {
		s.Key = key
	}
	c.opts.Metrics.ObserveTurnStage("persist", time.Since(persistStart))

	s.History = full
	s.State = StateIdle
	c.opts.Metrics.ObserveTurnStage("turn_total", time.Since(started))
	c.opts.Metrics.CountTurn("completed")
	c.emitFinal(s, onUpdate)
	return nil
}

// emitFinal sends the closing snapshot of a turn that is already recorded.
// A receiver that rejects it cannot undo the turn, so the error is only
// logged.
func (c *Controller) emitFinal(s *Session, onUpdate UpdateFunc) {
	snap := Snapshot{State: StateIdle, History: chat.Clone(s.History), Key: s.Key, Final: true}
	if err := onUpdate(snap); err != nil {
		c.logger.Warn("final snapshot not delivered", "session_id", s.ID, "key", s.Key, "err", err)
	}
}

// generate covers merging, trimming and streaming. Panics are converted to
// a *turnFailure.
func (c *Controller) generate(ctx context.Context, s *Session, message string, started time.Time, onUpdate UpdateFunc) (trimmed []chat.Turn, reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &turnFailure{cause: r}
		}
	}()
	m := c.opts.Metrics

	s.State = StateMerging
	t0 := time.Now()
	recent := c.opts.Assembler.AssembleRecentContext(ctx, c.cfg.RecentContextLimit)
	merged := history.MergeWithSession(recent, s.History)
	m.ObserveTurnStage("merge", time.Since(t0))

	s.State = StateTrimming
	t0 = time.Now()
	trim := c.opts.Trimmer.Trim(merged, c.cfg.HistoryBudget)
	trimmed = trim.Turns
	m.ObserveTurnStage("trim", time.Since(t0))

	s.State = StateStreaming
	t0 = time.Now()
	prompt := c.opts.Builder.Build(trimmed, c.opts.Profile, message, c.cfg.RequestBudget)
	m.ObserveTurnStage("build", time.Since(t0))
	m.ObserveWindow(len(trimmed), prompt.Tokens)
	if !prompt.NewMessageIncluded {
		c.logger.Warn("new message exceeds request budget and was left out of the prompt",
			"session_id", s.ID, "prompt_tokens", prompt.Tokens, "request_budget", c.cfg.RequestBudget)
		m.ObserveIndicator("new_message_dropped")
	}

	var (
		sb    strings.Builder
		first = true
	)
	streamStart := time.Now()
	err = c.opts.Completion.StreamCompletion(ctx, prompt.Messages, func(delta string) error {
		if first {
			m.ObserveFirstFragmentLatency(time.Since(started))
			first = false
		}
		sb.WriteString(delta)
		view := append(chat.Clone(trimmed), chat.NewTurn(message, sb.String()))
		return onUpdate(Snapshot{State: StateStreaming, History: view, Delta: delta, Key: s.Key})
	})
	m.ObserveTurnStage("stream", time.Since(streamStart))
	if err != nil {
		return nil, "", err
	}
	return trimmed, sb.String(), nil
}
