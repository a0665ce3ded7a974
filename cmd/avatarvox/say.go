package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/speech"
)

type sayOptions struct {
	avatar       string
	text         string
	out          string
	conversation string
	play         bool
}

func sayCmd(root *rootOptions) *cobra.Command {
	opts := &sayOptions{}
	cmd := &cobra.Command{
		Use:   "say [text]",
		Short: "Voice a single line as an avatar",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.text = args[0]
			}
			if strings.TrimSpace(opts.text) == "" {
				return errors.New("nothing to say: pass --text or a positional argument")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return root.withApp(ctx, func(ctx context.Context, a *app.App) error {
				return runSay(ctx, a, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.avatar, "avatar", "a", "", "avatar id (required)")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "line to speak")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the audio to this file")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "conversation id for analytics")
	cmd.Flags().BoolVar(&opts.play, "play", false, "play the audio with the configured player")
	_ = cmd.MarkFlagRequired("avatar")
	return cmd
}

func runSay(ctx context.Context, a *app.App, opts *sayOptions) error {
	res, err := a.Orchestrator().SpeakAs(ctx, opts.avatar, opts.text, opts.conversation)
	if err != nil {
		return err
	}
	defer res.Release()

	printResult(os.Stdout, opts.avatar, res)
	if res.Spoken() {
		if opts.out != "" {
			fmt.Fprintln(os.Stderr, "note: the line was voiced by the local engine; nothing written to", opts.out)
		}
		return nil
	}
	if opts.out != "" {
		if err := writeAudio(opts.out, res); err != nil {
			return err
		}
	}
	if opts.play || opts.out == "" {
		if a.Player() == nil {
			return errors.New("no audio player configured")
		}
		return a.Player().Play(ctx, res.Handle)
	}
	return nil
}

func writeAudio(path string, res *speech.Result) error {
	data, err := res.Handle.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  wrote %d bytes to %s\n", len(data), path)
	return nil
}

func printResult(w *os.File, avatar string, res *speech.Result) {
	source := "remote"
	switch {
	case res.FromCache:
		source = "cache"
	case res.UsedFallback:
		source = "local engine"
	}
	fmt.Fprintf(w, "%s: %s, %dms, via %s\n", avatar, res.Format, res.Duration.Milliseconds(), source)
}
