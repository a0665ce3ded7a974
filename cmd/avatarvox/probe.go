package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/avatarvox/pkg/audio"
)

type probeOptions struct {
	mime       string
	sampleRate int
	channels   int
	out        string
}

func probeCmd() *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Run the audio format resolver on a file of unknown format",
		Long: `probe feeds a file through the same resolution cascade used for provider
replies (pass-through, PCM header, forced wrap, repair) and reports which
strategy succeeded. With --out the playable result is written to disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.mime, "mime", "", `MIME hint as a provider would send it (e.g. "audio/L16;rate=24000")`)
	cmd.Flags().IntVar(&opts.sampleRate, "rate", 0, "sample rate assumed for headerless PCM")
	cmd.Flags().IntVar(&opts.channels, "channels", 0, "channel count assumed for headerless PCM")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the resolved audio to this file")
	return cmd
}

func runProbe(cmd *cobra.Command, path string, opts *probeOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var ropts []audio.Option
	if opts.sampleRate > 0 || opts.channels > 0 {
		f := audio.DefaultPCMFormat
		if opts.sampleRate > 0 {
			f.SampleRate = opts.sampleRate
		}
		if opts.channels > 0 {
			f.Channels = opts.channels
		}
		ropts = append(ropts, audio.WithPCMFormat(f))
	}
	res, err := audio.NewResolver(ropts...).Resolve(cmd.Context(), data, opts.mime)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer res.Handle.Release()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "file     : %s (%d bytes)\n", path, len(data))
	if sniffed, ok := audio.Sniff(data); ok {
		fmt.Fprintf(w, "sniffed  : %s\n", sniffed)
	} else {
		fmt.Fprintln(w, "sniffed  : no container signature")
	}
	fmt.Fprintf(w, "strategy : %s\n", res.Strategy)
	fmt.Fprintf(w, "format   : %s (%s)\n", res.Format, res.Format.ContentType())
	if res.Duration > 0 {
		fmt.Fprintf(w, "duration : %s\n", res.Duration)
	} else {
		fmt.Fprintln(w, "duration : unknown")
	}
	fmt.Fprintf(w, "output   : %d bytes\n", res.Handle.Len())

	if opts.out != "" {
		b, err := res.Handle.Bytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.out, b, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote    : %s\n", opts.out)
	}
	return nil
}
