package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/ftl/multirx/tci"
)

var tciFlags = struct {
	host     string
	trx      int
	traceTCI bool
}{}

var tciCmd = &cobra.Command{
	Use:   "tci",
	Short: "receive the VFOs from a TCI IQ stream",
	Run:   runWithCtx(runTCI),
}

func init() {
	rootCmd.AddCommand(tciCmd)

	tciCmd.Flags().StringVar(&tciFlags.host, "host", "localhost:40001", "the TCI host and port")
	tciCmd.Flags().IntVar(&tciFlags.trx, "trx", 0, "the zero-based index of the TCI trx")
	tciCmd.Flags().BoolVar(&tciFlags.traceTCI, "trace_tci", false, "trace the TCI communication on the console")
}

func runTCI(ctx context.Context, env environment, cmd *cobra.Command, args []string) {
	station, err := newStation(env, tci.SampleRate, tci.BlockSize)
	exitOnError(cmd, err)
	defer station.Close()

	station.receiver.SetCenterFrequency(env.cfg.Hardware.CenterHz)
	station.receiver.Start(tci.SampleRate, tci.BlockSize)

	process, err := tci.New(tciFlags.host, tciFlags.trx, station.receiver, tciFlags.traceTCI)
	if err != nil {
		log.Fatal(err)
	}
	station.events.Add(process)
	station.addInitialVFOs(env.cfg)

	<-ctx.Done()
	process.Close()
}
