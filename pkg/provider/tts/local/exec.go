package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/avatarvox/pkg/audio"
)

// Default engine command templates. Placeholders are substituted per argument
// after splitting, so text never passes through a shell.
const (
	DefaultLinuxCommand  = "espeak-ng -v {lang} -s {wpm} -p {pitch} -a {amplitude} -- {text}"
	DefaultDarwinCommand = "say -r {wpm} -- {text}"

	DefaultLinuxPlayer  = "ffplay -nodisp -autoexit -loglevel quiet {file}"
	DefaultDarwinPlayer = "afplay {file}"
)

// DefaultCommand returns the engine template for goos.
func DefaultCommand(goos string) string {
	if goos == "darwin" {
		return DefaultDarwinCommand
	}
	return DefaultLinuxCommand
}

// DefaultPlayer returns the player template for goos.
func DefaultPlayer(goos string) string {
	if goos == "darwin" {
		return DefaultDarwinPlayer
	}
	return DefaultLinuxPlayer
}

// parseTemplate splits a command template into argv.
func parseTemplate(command string) ([]string, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("local: parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("local: command must not be empty")
	}
	return argv, nil
}

// expand substitutes placeholders in every argument of argv.
func expand(argv []string, r *strings.Replacer) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// ExecEngine runs an external speech command per utterance.
//
// Supported placeholders: {text} {voice} {lang} {wpm} {pitch} {amplitude}.
// {pitch} and {amplitude} use espeak's scales (0-99, default 50; 0-200,
// default 100).
type ExecEngine struct {
	argv []string
}

var _ Engine = (*ExecEngine)(nil)

// NewExecEngine parses command. An empty command selects the platform
// default.
func NewExecEngine(command string) (*ExecEngine, error) {
	if command == "" {
		command = DefaultCommand(runtime.GOOS)
	}
	argv, err := parseTemplate(command)
	if err != nil {
		return nil, err
	}
	return &ExecEngine{argv: argv}, nil
}

// Available reports whether the engine binary is on PATH.
func (e *ExecEngine) Available() error {
	if _, err := exec.LookPath(e.argv[0]); err != nil {
		return fmt.Errorf("local: engine %q: %w", e.argv[0], err)
	}
	return nil
}

// Args returns the argv the engine would run for u.
func (e *ExecEngine) Args(u Utterance) []string {
	lang := strings.ToLower(u.Language)
	if lang == "" {
		lang = "en"
	}
	r := strings.NewReplacer(
		"{text}", u.Text,
		"{voice}", u.Voice,
		"{lang}", lang,
		"{wpm}", strconv.Itoa(wordsPerMinute(u.Rate)),
		"{pitch}", strconv.Itoa(espeakPitch(u.Pitch)),
		"{amplitude}", strconv.Itoa(espeakAmplitude(u.VolumeGainDb)),
	)
	return expand(e.argv, r)
}

// Speak implements [Engine]. The process is killed when ctx is cancelled.
func (e *ExecEngine) Speak(ctx context.Context, u Utterance) (<-chan Event, error) {
	args := e.Args(u)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	events := make(chan Event, 2)
	events <- Event{Type: EventStart}
	go func() {
		defer close(events)
		if err := cmd.Wait(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			events <- Event{Type: EventError, Err: err}
			return
		}
		events <- Event{Type: EventEnd}
	}()
	return events, nil
}

// wordsPerMinute maps a speaking rate to the baseline words per minute.
func wordsPerMinute(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(math.Round(BaselineWordsPerMinute * rate))
}

// espeakPitch maps -20..20 semitones onto espeak's 0..99 scale.
func espeakPitch(semitones float64) int {
	return int(math.Round(min(max(50+2.5*semitones, 0), 99)))
}

// espeakAmplitude maps a gain in dB onto espeak's 0..200 amplitude.
func espeakAmplitude(gainDb float64) int {
	return int(math.Round(min(max(100*math.Pow(10, gainDb/20), 0), 200)))
}

// ExecPlayer plays audio handles through an external player command. The
// template must contain {file}, which is replaced with a temporary file
// holding the audio.
type ExecPlayer struct {
	argv []string
}

// NewExecPlayer parses command. An empty command selects the platform
// default.
func NewExecPlayer(command string) (*ExecPlayer, error) {
	if command == "" {
		command = DefaultPlayer(runtime.GOOS)
	}
	argv, err := parseTemplate(command)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(command, "{file}") {
		return nil, fmt.Errorf("local: player command %q has no {file} placeholder", command)
	}
	return &ExecPlayer{argv: argv}, nil
}

// Play writes h to a temporary file and blocks until the player exits. The
// handle is not released.
func (p *ExecPlayer) Play(ctx context.Context, h *audio.Handle) error {
	data, err := h.Bytes()
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "avatarvox-*"+h.Format().Extension())
	if err != nil {
		return fmt.Errorf("local: create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("local: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("local: close temp file: %w", err)
	}

	args := expand(p.argv, strings.NewReplacer("{file}", f.Name()))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("local: player %s failed: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

