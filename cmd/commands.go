// SPDX-License-Identifier: MIT
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"soundscope/internal/audio"
	"soundscope/internal/bus"
	"soundscope/internal/config"
	"soundscope/internal/export"
	"soundscope/internal/graph"
	"soundscope/internal/tui"
)

func newRunCommand(opts *options) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Analyse live input from an audio device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			if opts.pick {
				sel, ok, err := tui.PickDevice()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				opts.deviceID, opts.channels, opts.sampleRate = sel.DeviceID, sel.Channels, sel.SampleRate
			}
			if err := opts.applyFlags(cmd); err != nil {
				return err
			}

			src, err := audio.OpenLive(opts.cfg.Audio)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), opts.cfg, src, sessionOptions{
				record: opts.record,
				output: opts.output,
				tui:    opts.tui,
				out:    cmd.OutOrStdout(),
			})
		},
	}

	f := runCmd.Flags()
	f.IntVarP(&opts.deviceID, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use the 'list' command to see available devices.")
	f.BoolVarP(&opts.lowLatency, "low-latency", "l", false,
		"Use the device's low input latency")
	f.BoolVar(&opts.pick, "pick", false, "Choose the device and sample rate interactively")
	addAudioFlags(runCmd, opts)
	addSessionFlags(runCmd, opts)
	return runCmd
}

func newFileCommand(opts *options) *cobra.Command {
	fileCmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Analyse a WAV or MP3 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.applyFlags(cmd); err != nil {
				return err
			}
			quality, err := parseQuality(opts.quality)
			if err != nil {
				return err
			}

			fileOpts := audio.FileOptions{
				SampleRate:      opts.cfg.Audio.SampleRate,
				FramesPerSample: opts.cfg.Audio.FramesPerSample,
				Paced:           opts.paced || opts.tui,
				Quality:         quality,
			}
			if opts.nativeRate {
				fileOpts.SampleRate = 0
			}
			src, err := audio.OpenFile(args[0], fileOpts)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), opts.cfg, src, sessionOptions{
				record: opts.record,
				output: opts.output,
				tui:    opts.tui,
				out:    cmd.OutOrStdout(),
			})
		},
	}

	f := fileCmd.Flags()
	f.BoolVar(&opts.paced, "paced", false, "Deliver audio at real time instead of as fast as possible")
	f.BoolVar(&opts.nativeRate, "native-rate", false, "Analyse at the file's own sample rate")
	f.StringVar(&opts.quality, "quality", "medium",
		"Resampling quality when rates differ (quick, low, medium, high, veryhigh)")
	addAudioFlags(fileCmd, opts)
	addSessionFlags(fileCmd, opts)
	return fileCmd
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			devices, err := audio.HostDevices()
			if err != nil {
				return err
			}
			audio.WriteDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
}

func newNodesCommand(opts *options) *cobra.Command {
	nodesCmd := &cobra.Command{
		Use:   "nodes",
		Short: "Print the analysis graph the configuration builds, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.applyFlags(cmd); err != nil {
				return err
			}
			return writeNodes(cmd.OutOrStdout(), opts.cfg)
		},
	}
	addAudioFlags(nodesCmd, opts)
	return nodesCmd
}

// writeNodes builds the graph without feeding it and prints its
// descriptors. Tiles are discarded so nothing is written to disk.
func writeNodes(w io.Writer, cfg *config.Config) error {
	h := graph.New(cfg, bus.New(), graph.WithTileWriter(export.NewWriter(io.Discard)))
	if err := h.Build(); err != nil {
		return err
	}
	nodes := h.Nodes()
	if err := h.Close(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(nodes); err != nil {
		return fmt.Errorf("failed to encode nodes: %w", err)
	}
	return nil
}
