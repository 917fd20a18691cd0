package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-capture/internal/audio"
	"github.com/chaz8081/gostt-capture/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "gostt-capture",
	Short: "Record microphone and system audio into one WAV file",
	Long: `gostt-capture records the microphone and the system audio output at the same
time, mixes them into a single mono WAV file and keeps that file playable while
it grows, so a transcriber can follow the recording live.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gostt-capture v%s\n", version)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a commented default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Printf("Config already exists at %s, leaving it alone\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: ~/.config/gostt-capture/config.yaml)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads and validates the config and installs the slog handler.
func setup() (*config.Config, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// serve starts an HTTP listener in the background. The returned server is
// shut down by the caller.
func serve(name, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("["+name+"] listener failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("["+name+"] listening", "addr", addr)
	return srv
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture and loopback devices usable as mic.device / system.device",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, group := range []struct {
			title    string
			loopback bool
		}{{"Capture devices (mic)", false}, {"Playback devices (system, loopback)", true}} {
			devices, err := audio.ListDevices(group.loopback)
			if err != nil {
				return err
			}
			fmt.Println(group.title + ":")
			if len(devices) == 0 {
				fmt.Println("  (none)")
			}
			for _, d := range devices {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Printf(" %s %s\n", marker, d.Name)
			}
		}
		return nil
	},
}
