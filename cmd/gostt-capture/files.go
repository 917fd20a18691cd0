package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-capture/internal/audio"
	"github.com/chaz8081/gostt-capture/internal/mixer"
	"github.com/chaz8081/gostt-capture/internal/wavfile"
)

var (
	mixOutput string
	mixPaced  bool
)

var mixCmd = &cobra.Command{
	Use:   "mix <mic.wav> <system.wav>",
	Short: "Mix two WAV files the same way record mixes live sources",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		micFile, err := audio.OpenWAV(args[0])
		if err != nil {
			return err
		}
		sysFile, err := audio.OpenWAV(args[1])
		if err != nil {
			return err
		}
		micFile.Paced(mixPaced)
		sysFile.Paced(mixPaced)
		mic, sys := track(micFile), track(sysFile)

		path := mixOutput
		if path == "" {
			path = cfg.Output.PathFor(time.Now())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := mixer.New(cfg.Output.Format(), path, mixerOptions(cfg, nil))
		if err := m.Start(ctx, mic, sys); err != nil {
			return err
		}
		for _, s := range []*trackedStream{mic, sys} {
			select {
			case <-s.done:
			case <-ctx.Done():
			}
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		out, err := m.Stop(stopCtx)
		if err != nil {
			return err
		}
		return printInfo(out)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.wav>...",
	Short: "Show the header of WAV files, including ones still being recorded",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := printInfo(path); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	mixCmd.Flags().StringVarP(&mixOutput, "output", "o", "", "output file (default: a timestamped file in output.dir)")
	mixCmd.Flags().BoolVar(&mixPaced, "paced", false, "feed the files in real time instead of as fast as possible")
}

func printInfo(path string) error {
	info, err := wavfile.Inspect(path)
	if err != nil {
		return err
	}
	state := "complete"
	if !info.Complete() {
		state = fmt.Sprintf("in progress, %d bytes past the header length", info.FileSize-wavfile.HeaderSize-info.DataSize)
	}
	fmt.Printf("%s\n", path)
	fmt.Printf("  Format:   %s\n", info.Format)
	fmt.Printf("  Data:     %d bytes\n", info.DataSize)
	fmt.Printf("  Duration: %s\n", info.Duration.Round(10*time.Millisecond))
	fmt.Printf("  State:    %s\n", state)
	return nil
}

// trackedStream reports when the wrapped stream has finished.
type trackedStream struct {
	audio.Stream
	done chan struct{}
}

func track(s audio.Stream) *trackedStream {
	return &trackedStream{Stream: s, done: make(chan struct{})}
}

func (t *trackedStream) Run(ctx context.Context, emit func([]byte)) error {
	defer close(t.done)
	return t.Stream.Run(ctx, emit)
}
