package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-capture/internal/audio"
	"github.com/chaz8081/gostt-capture/internal/config"
	"github.com/chaz8081/gostt-capture/internal/hotkey"
	"github.com/chaz8081/gostt-capture/internal/livefeed"
	"github.com/chaz8081/gostt-capture/internal/metrics"
	"github.com/chaz8081/gostt-capture/internal/mixer"
	"github.com/chaz8081/gostt-capture/internal/wavfile"
)

const stopTimeout = 10 * time.Second

var (
	recordOutput   string
	recordDuration time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record microphone and system audio until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		return runRecord(cmd.Context(), cfg)
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file (default: a timestamped file in output.dir)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long (default: until Ctrl+C)")
}

func runRecord(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := &recorder{cfg: cfg, failed: make(chan error, 1)}
	r.opts = mixerOptions(cfg, func(err error) {
		select {
		case r.failed <- err:
		default:
		}
	})

	var servers []*http.Server
	if cfg.Metrics.Enabled {
		r.opts.Metrics = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.opts.Metrics.Handler())
		servers = append(servers, serve("metrics", cfg.Metrics.Addr, mux))
	}
	if cfg.Live.Enabled {
		hub := livefeed.NewHub(0)
		defer hub.Close()
		r.opts.Callbacks = mixer.Callbacks{
			OnMixed:      hub.Sink(livefeed.KindMixed),
			OnMicrophone: hub.Sink(livefeed.KindMicrophone),
			OnSystem:     hub.Sink(livefeed.KindSystem),
		}
		mux := http.NewServeMux()
		mux.Handle("/feed", hub)
		servers = append(servers, serve("livefeed", cfg.Live.Addr, mux))
	}
	defer func() {
		for _, srv := range servers {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
		}
	}()

	if cfg.Hotkey.Enabled {
		printBanner(cfg, cfg.Output.Dir)
		return r.runHotkey(ctx)
	}

	path := recordOutput
	if path == "" {
		path = cfg.Output.PathFor(time.Now())
	}
	printBanner(cfg, path)
	fmt.Println("Recording... Ctrl+C to stop.")
	return r.record(ctx, path, nil)
}

// recorder runs capture sessions with a shared set of mixer options.
type recorder struct {
	cfg    *config.Config
	opts   mixer.Options
	failed chan error
}

// runHotkey waits for the hotkey and records one file per session until
// ctx is cancelled.
func (r *recorder) runHotkey(ctx context.Context) error {
	mode, err := hotkey.ParseMode(r.cfg.Hotkey.Mode)
	if err != nil {
		return err
	}
	listener := hotkey.NewListener(r.cfg.Hotkey.Keys, mode)
	go listener.Start()
	defer listener.Stop()

	combo := strings.Join(r.cfg.Hotkey.Keys, "+")
	fmt.Printf("Ready! Press %s to record (%s mode). Ctrl+C to quit.\n", combo, mode)

	events := listener.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				slog.Info("[hotkey] listener stopped")
				return nil
			}
			if ev.Type != hotkey.EventStart {
				continue
			}
			fmt.Println("Recording...")
			if err := r.record(ctx, r.cfg.Output.PathFor(time.Now()), events); err != nil {
				// A failed session does not end the hotkey loop.
				slog.Error("[record] session failed", "error", err)
			}
		}
	}
}

// record captures one file until ctx is cancelled, the --duration elapses,
// a stop event arrives on stopEvents (nil to disable) or writing fails.
func (r *recorder) record(ctx context.Context, path string, stopEvents <-chan hotkey.Event) error {
	// a failure reported after the previous session stopped
	select {
	case <-r.failed:
	default:
	}

	m := mixer.New(r.cfg.Output.Format(), path, r.opts)
	mic := openSource(r.cfg.Mic, false)
	sys := openSource(r.cfg.System, true)
	if err := m.Start(ctx, mic, sys); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if recordDuration > 0 {
		timer := time.NewTimer(recordDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	status := time.NewTicker(10 * time.Second)
	defer status.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			slog.Info("[record] interrupted, finishing file")
			break wait
		case <-deadline:
			break wait
		case ev, ok := <-stopEvents:
			if !ok || ev.Type == hotkey.EventStop {
				break wait
			}
		case err := <-r.failed:
			slog.Error("[record] recording failed", "error", err)
			break wait
		case <-status.C:
			st := m.State()
			slog.Info("[record] status",
				"seconds", float64(st.SamplesProcessed)/float64(r.cfg.Output.SampleRate),
				"mic_buffered", st.MicBuffered,
				"sys_buffered", st.SysBuffered)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	out, err := m.Stop(stopCtx)
	if err != nil {
		if errors.Is(err, wavfile.ErrDiskFull) {
			return fmt.Errorf("disk full, recording saved up to the failure in %s: %w", out, err)
		}
		return err
	}

	info, err := wavfile.Inspect(out)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s (%s)\n", out, info.Duration.Round(10*time.Millisecond))
	return nil
}

// openSource builds the capture stream for one source.
func openSource(sc config.SourceConfig, system bool) audio.Stream {
	f := sc.Format()
	if sc.Backend == "pulse" {
		if system && sc.Device == "" {
			return audio.NewPulseMonitor(f)
		}
		return audio.NewPulseSource(f, sc.Device)
	}
	if system {
		return audio.NewLoopback(f, sc.Device)
	}
	return audio.NewMicrophone(f, sc.Device)
}

func mixerOptions(cfg *config.Config, onError func(error)) mixer.Options {
	return mixer.Options{
		OnError:          onError,
		SilenceThreshold: cfg.Mixer.SilenceThreshold,
		HeadroomGain:     cfg.Mixer.HeadroomGain,
		QueueSize:        cfg.Mixer.QueueSize,
		WriterOptions: []wavfile.Option{
			wavfile.WithHeaderInterval(cfg.Writer.HeaderUpdateBytes, cfg.Writer.HeaderUpdateInterval),
		},
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, path string) {
	fmt.Println("=== gostt-capture ===")
	fmt.Printf("  Output:  %s (%s)\n", path, cfg.Output.Format())
	fmt.Printf("  Mic:     %s %s %s\n", cfg.Mic.Backend, deviceName(cfg.Mic.Device), cfg.Mic.Format())
	fmt.Printf("  System:  %s %s %s\n", cfg.System.Backend, deviceName(cfg.System.Device), cfg.System.Format())
	if cfg.Live.Enabled {
		fmt.Printf("  Live:    ws://%s/feed\n", cfg.Live.Addr)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkey:  %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}

func deviceName(d string) string {
	if d == "" {
		return "(default)"
	}
	return d
}
