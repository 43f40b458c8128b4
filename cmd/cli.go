// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	resampler "github.com/tphakala/go-audio-resampler"

	"soundscope/internal/config"
	"soundscope/internal/log"
	"soundscope/pkg/build"
)

// options holds every flag. Audio and recording flags only override the
// configuration when they are set on the command line.
type options struct {
	configPath string
	verbose    bool
	logFile    string

	deviceID        int
	channels        int
	sampleRate      float64
	framesPerSample int
	lowLatency      bool
	pick            bool

	record bool
	output string
	tui    bool

	paced      bool
	nativeRate bool
	quality    string

	cfg     *config.Config
	logSink io.Closer
}

// Execute runs the command line with args, excluding the program name.
// Interrupting ctx stops a running analysis.
func Execute(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(os.Stderr)
			if opts.logSink != nil {
				return opts.logSink.Close()
			}
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "C", "",
		"Path to a YAML configuration file (default ./config.yaml when present)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Show verbose output")
	pf.StringVar(&opts.logFile, "log-file", "",
		"Write logs to this file instead of stderr (recommended with --tui)")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newFileCommand(opts),
		newListCommand(opts),
		newNodesCommand(opts),
	)
	return rootCmd
}

// setup loads the configuration and applies the logging flags.
func (o *options) setup() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg

	level, _ := log.ParseLevel(cfg.LogLevel)
	if cfg.Debug || o.verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)

	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.SetOutput(f)
		o.logSink = f
	} else if o.tui {
		// The dashboard owns the terminal.
		log.SetOutput(io.Discard)
	}
	return nil
}

// addAudioFlags registers the flags that override the audio section.
func addAudioFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.IntVarP(&opts.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to analyse (1=mono, 2=stereo)")
	f.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	f.IntVarP(&opts.framesPerSample, "frames-per-sample", "b", config.DefaultFramesPerSample,
		"Frames per channel per admission (affects latency)")
}

func addSessionFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.BoolVarP(&opts.record, "record", "r", false, "Record the input to a WAV file")
	f.StringVarP(&opts.output, "output", "o", "",
		"Recording file name (default <recording.output_dir>/recording-YYYYMMDD-HHMMSS.wav)")
	f.BoolVarP(&opts.tui, "tui", "t", false, "Show the live dashboard")
}

// applyFlags copies the flags set on cmd, or picked interactively, into
// the configuration. The update is validated as a whole and leaves the
// configuration untouched on failure.
func (o *options) applyFlags(cmd *cobra.Command) error {
	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}
	return o.cfg.Update(func(c *config.Config) {
		if changed("device") || o.pick {
			c.Audio.InputDevice = o.deviceID
		}
		if changed("channels") || o.pick {
			c.Audio.Channels = o.channels
		}
		if changed("sample-rate") || o.pick {
			c.Audio.SampleRate = o.sampleRate
		}
		if changed("frames-per-sample") {
			c.Audio.FramesPerSample = o.framesPerSample
		}
		if changed("low-latency") {
			c.Audio.LowLatency = o.lowLatency
		}
	})
}

func parseQuality(name string) (resampler.QualityPreset, error) {
	switch strings.ToLower(name) {
	case "quick":
		return resampler.QualityQuick, nil
	case "low":
		return resampler.QualityLow, nil
	case "medium", "":
		return resampler.QualityMedium, nil
	case "high":
		return resampler.QualityHigh, nil
	case "veryhigh", "very-high":
		return resampler.QualityVeryHigh, nil
	}
	return 0, fmt.Errorf("unknown resampling quality %q (quick, low, medium, high, veryhigh)", name)
}
