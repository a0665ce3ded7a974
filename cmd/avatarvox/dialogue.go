package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/dialogue"
)

type dialogueOptions struct {
	script string
	outDir string
	play   bool
}

func dialogueCmd(root *rootOptions) *cobra.Command {
	opts := &dialogueOptions{}
	cmd := &cobra.Command{
		Use:   "dialogue",
		Short: "Voice a multi-avatar conversation from a script file",
		Example: `  avatarvox dialogue --script tavern.yaml --play
  avatarvox dialogue --script tavern.yaml --out-dir ./lines`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := dialogue.LoadScript(opts.script)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return root.withApp(ctx, func(ctx context.Context, a *app.App) error {
				return runDialogue(ctx, a, script, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.script, "script", "s", "", "YAML or JSON dialogue script (required)")
	cmd.Flags().StringVar(&opts.outDir, "out-dir", "", "write each turn's audio into this directory")
	cmd.Flags().BoolVar(&opts.play, "play", false, "play the turns in order once generated")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runDialogue(ctx context.Context, a *app.App, script *dialogue.Script, opts *dialogueOptions) error {
	if script.ConversationID == "" {
		script.ConversationID = uuid.NewString()
	}
	results, err := a.Sequencer().Generate(ctx, script.ConversationID, script.Turns)
	if err != nil {
		return err
	}
	defer dialogue.Release(results)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("[%d] %s: FAILED: %v\n", r.Turn.SequenceIndex, r.Turn.AvatarID, r.Err)
			continue
		}
		fmt.Printf("[%d] ", r.Turn.SequenceIndex)
		printResult(os.Stdout, r.Turn.AvatarID, r.Result)
	}

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil || r.Result.Spoken() {
				continue
			}
			name := fmt.Sprintf("%03d-%s%s", r.Turn.SequenceIndex, r.Turn.AvatarID, r.Result.Format.Extension())
			if err := writeAudio(filepath.Join(opts.outDir, name), r.Result); err != nil {
				return err
			}
		}
	}

	if opts.play {
		if a.Player() == nil {
			return errors.New("no audio player configured")
		}
		hooks := dialogue.Hooks{
			OnTurnStart: func(r dialogue.TurnResult) {
				fmt.Printf("> %s: %s\n", r.Turn.AvatarID, r.Turn.Text)
			},
		}
		if err := a.Sequencer().PlaySequentially(ctx, results, a.Player(), hooks); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d turns failed", failed, len(results))
	}
	return nil
}
