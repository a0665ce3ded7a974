// Package dialogue voices multi-avatar conversations.
//
// A [Sequencer] generates turns strictly one after another, waiting a fixed
// delay after each completed call, and returns results in sequence order.
// [Sequencer.PlaySequentially] then plays them back with a short pause
// between turns.
package dialogue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/MrWong99/avatarvox/internal/analytics"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/internal/speech"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/types"
)

var (
	// ErrNoTurns is returned for an empty dialogue.
	ErrNoTurns = errors.New("dialogue: no turns")

	// ErrDuplicateIndex is returned when two turns share a sequence index.
	ErrDuplicateIndex = errors.New("dialogue: duplicate sequence index")
)

// Default pacing.
const (
	DefaultInterCallDelay = 200 * time.Millisecond
	DefaultTurnPause      = 300 * time.Millisecond
)

// Synthesizer voices one line for an avatar. [speech.Orchestrator]
// implements it.
type Synthesizer interface {
	SpeakAs(ctx context.Context, avatarID, text, conversationID string) (*speech.Result, error)
}

// Player plays a handle to completion.
type Player interface {
	Play(ctx context.Context, h *audio.Handle) error
}

// Config paces generation and playback.
type Config struct {
	// InterCallDelay is the idle time between the end of one synthesis call
	// and the start of the next. The same value also caps how often a
	// Sequencer starts calls across all of its conversations.
	InterCallDelay time.Duration

	// TurnPause is the silence inserted between turns during playback.
	TurnPause time.Duration
}

// TurnResult pairs a turn with its outcome. Exactly one of Result and Err is
// set.
type TurnResult struct {
	Turn   types.DialogueTurnRequest
	Result *speech.Result
	Err    error
}

// Hooks are invoked at turn boundaries during playback.
type Hooks struct {
	OnTurnStart func(TurnResult)
	OnTurnEnd   func(TurnResult, error)
}

// Option configures a [Sequencer].
type Option func(*Sequencer)

// WithNotifier sets the analytics sink. Defaults to [analytics.Discard].
func WithNotifier(n analytics.Notifier) Option {
	return func(s *Sequencer) { s.notifier = n }
}

// Sequencer generates dialogue turns one at a time. Within a conversation
// calls are separated by InterCallDelay; across conversations a single
// limiter spaces call starts by the same amount.
type Sequencer struct {
	synth    Synthesizer
	cfg      Config
	limiter  *rate.Limiter
	notifier analytics.Notifier
}

// New creates a sequencer. Zero durations in cfg take the defaults; use a
// negative value to disable pacing or pauses.
func New(synth Synthesizer, cfg Config, opts ...Option) *Sequencer {
	if cfg.InterCallDelay == 0 {
		cfg.InterCallDelay = DefaultInterCallDelay
	}
	if cfg.TurnPause == 0 {
		cfg.TurnPause = DefaultTurnPause
	}
	limit := rate.Inf
	if cfg.InterCallDelay > 0 {
		limit = rate.Every(cfg.InterCallDelay)
	}
	s := &Sequencer{
		synth:    synth,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		notifier: analytics.Discard,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate checks that turns is non-empty and that sequence indices are
// unique.
func Validate(turns []types.DialogueTurnRequest) error {
	if len(turns) == 0 {
		return ErrNoTurns
	}
	seen := make(map[int]bool, len(turns))
	for _, t := range turns {
		if seen[t.SequenceIndex] {
			return fmt.Errorf("%w: %d", ErrDuplicateIndex, t.SequenceIndex)
		}
		seen[t.SequenceIndex] = true
	}
	return nil
}

// Generate voices every turn in sequence order and returns the results
// sorted by sequence index. A failed turn is recorded in its TurnResult and
// does not stop the dialogue. If ctx is cancelled, every result produced so
// far is released and ctx.Err() is returned.
func (s *Sequencer) Generate(ctx context.Context, conversationID string, turns []types.DialogueTurnRequest) ([]TurnResult, error) {
	results := make([]TurnResult, 0, len(turns))
	err := s.Stream(ctx, conversationID, turns, func(r TurnResult) error {
		results = append(results, r)
		return nil
	})
	if err != nil {
		Release(results)
		return nil, err
	}
	return results, nil
}

// Stream is like [Sequencer.Generate] but hands each result to emit as soon
// as it is ready. Ownership of an emitted result passes to emit. If emit
// returns an error, generation stops and that error is returned.
func (s *Sequencer) Stream(ctx context.Context, conversationID string, turns []types.DialogueTurnRequest, emit func(TurnResult) error) (err error) {
	if err := Validate(turns); err != nil {
		return err
	}
	ordered := slices.SortedFunc(slices.Values(turns), func(a, b types.DialogueTurnRequest) int {
		return cmp.Compare(a.SequenceIndex, b.SequenceIndex)
	})

	start := time.Now()
	ctx = observe.WithSpeaker(ctx, "", conversationID)
	ctx, span := observe.StartSpan(ctx, "dialogue.Generate")
	span.SetAttributes(attribute.Int("dialogue.turns", len(ordered)))
	failed := 0
	defer func() {
		span.SetAttributes(attribute.Int("dialogue.failed_turns", failed))
		outcome := "ok"
		if err != nil {
			outcome = "aborted"
		}
		observe.EndSpan(span, outcome, err)
		e := analytics.Event{
			Type:           analytics.TypeDialogue,
			ConversationID: conversationID,
			CorrelationID:  observe.CorrelationID(ctx),
			Outcome:        outcome,
			Turns:          len(ordered),
			LatencyMs:      time.Since(start).Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		s.notifier.Notify(e)
	}()

	log := observe.Logger(ctx)
	for i, turn := range ordered {
		if i > 0 && s.cfg.InterCallDelay > 0 {
			if err := sleep(ctx, s.cfg.InterCallDelay); err != nil {
				return err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return ctxErr(ctx, err)
		}
		res, err := s.synth.SpeakAs(ctx, turn.AvatarID, turn.Text, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			log.Warn("dialogue: turn failed", "sequence_index", turn.SequenceIndex, "avatar_id", turn.AvatarID, "error", err)
		}
		if err := emit(TurnResult{Turn: turn, Result: res, Err: err}); err != nil {
			return err
		}
	}
	return nil
}

// ctxErr prefers the context's own error over the limiter's wrapper.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// PlaySequentially plays results in order, each to completion, with the
// configured pause between turns. Failed turns are skipped. Spoken results
// were already voiced by the device engine, so their duration is waited out
// instead. Player errors are reported through hooks and returned joined;
// cancellation stops playback immediately.
func (s *Sequencer) PlaySequentially(ctx context.Context, results []TurnResult, player Player, hooks Hooks) error {
	var errs []error
	played := 0
	for _, r := range results {
		if r.Err != nil || r.Result == nil {
			continue
		}
		if played > 0 && s.cfg.TurnPause > 0 {
			if err := sleep(ctx, s.cfg.TurnPause); err != nil {
				return err
			}
		}
		played++

		if hooks.OnTurnStart != nil {
			hooks.OnTurnStart(r)
		}
		var err error
		if r.Result.Spoken() {
			err = sleep(ctx, r.Result.Duration)
		} else {
			err = player.Play(ctx, r.Result.Handle)
		}
		if hooks.OnTurnEnd != nil {
			hooks.OnTurnEnd(r, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("dialogue: play turn %d: %w", r.Turn.SequenceIndex, err))
		}
	}
	return errors.Join(errs...)
}

// Release releases every handle in results. Failed turns and handles that
// were already released are ignored.
func Release(results []TurnResult) {
	for _, r := range results {
		_ = r.Result.Release()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
