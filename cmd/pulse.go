package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jfreymuth/pulse"
	"github.com/spf13/cobra"

	"github.com/ftl/multirx/iqfile"
)

var pulseFlags = struct {
	source string
}{}

var pulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "receive the VFOs from the IQ signal of a stereo Pulseaudio source",
	Run:   runWithCtx(runPulse),
}

func init() {
	rootCmd.AddCommand(pulseCmd)

	pulseCmd.Flags().StringVar(&pulseFlags.source, "source", "", "Pulseaudio source ID to use")
}

func runPulse(ctx context.Context, env environment, cmd *cobra.Command, args []string) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("multirx"))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	var source *pulse.Source
	if pulseFlags.source == "" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(pulseFlags.source)
	}
	if err != nil {
		log.Fatal(err)
	}

	sampleRate := source.SampleRate()
	blockSize := env.cfg.Hardware.BlockSize
	station, err := newStation(env, sampleRate, blockSize)
	exitOnError(cmd, err)
	defer station.Close()

	blocker := iqfile.NewBlocker(sampleRate, blockSize, station.receiver)
	stream, err := client.NewRecord(pulse.Float32Writer(blocker.Write), pulse.RecordSource(source), pulse.RecordStereo, pulse.RecordBufferFragmentSize(2*uint32(blockSize)))
	if err != nil {
		log.Fatal(err)
	}
	if stream.Channels() != 2 {
		exitOnError(cmd, fmt.Errorf("the source %s provides %d channels, IQ needs 2", source.ID(), stream.Channels()))
	}

	station.receiver.SetCenterFrequency(env.cfg.Hardware.CenterHz)
	station.receiver.Start(sampleRate, blockSize)
	station.addInitialVFOs(env.cfg)

	stream.Start()
	<-ctx.Done()
	stream.Stop()
}
