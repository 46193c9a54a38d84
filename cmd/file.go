package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftl/multirx/iqfile"
)

var fileFlags = struct {
	sampleRate int
	centerHz   float64
	fast       bool
	loop       bool
}{}

var fileCmd = &cobra.Command{
	Use:   "file <filename>",
	Short: "receive the VFOs from a file with interleaved little-endian float32 IQ data",
	Args:  cobra.ExactArgs(1),
	Run:   runWithCtx(runFile),
}

func init() {
	rootCmd.AddCommand(fileCmd)

	fileCmd.Flags().IntVar(&fileFlags.sampleRate, "sample-rate", 0, "the sample rate of the recording (default: hardware.sample_rate of the configuration)")
	fileCmd.Flags().Float64Var(&fileFlags.centerHz, "center", -1, "the center frequency of the recording in Hz (default: hardware.center_hz of the configuration)")
	fileCmd.Flags().BoolVar(&fileFlags.fast, "fast", false, "replay as fast as possible instead of real time")
	fileCmd.Flags().BoolVar(&fileFlags.loop, "loop", false, "restart at the end of the file")
}

func runFile(ctx context.Context, env environment, cmd *cobra.Command, args []string) {
	settings := iqfile.Settings{
		SampleRate: env.cfg.Hardware.SampleRate,
		BlockSize:  env.cfg.Hardware.BlockSize,
		CenterHz:   env.cfg.Hardware.CenterHz,
		Realtime:   !fileFlags.fast,
		Loop:       fileFlags.loop,
	}
	if fileFlags.sampleRate > 0 {
		settings.SampleRate = fileFlags.sampleRate
	}
	if fileFlags.centerHz >= 0 {
		settings.CenterHz = fileFlags.centerHz
	}

	station, err := newStation(env, settings.SampleRate, settings.BlockSize)
	exitOnError(cmd, err)
	defer station.Close()

	station.receiver.SetCenterFrequency(settings.CenterHz)
	station.addInitialVFOs(env.cfg)

	blocks, err := iqfile.Play(ctx, args[0], settings, station.receiver)
	exitOnError(cmd, err)
	fmt.Fprintf(cmd.OutOrStdout(), "%d blocks replayed\n", blocks)
}
