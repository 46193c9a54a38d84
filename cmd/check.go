package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ftl/multirx/config"
	"github.com/ftl/multirx/vfo"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "validate the configuration and the initial VFOs against the hardware window",
	Run:   runWithCtx(runCheck),
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(_ context.Context, env environment, cmd *cobra.Command, _ []string) {
	if failed := checkVFOs(cmd.OutOrStdout(), env.cfg); failed > 0 {
		exitOnError(cmd, fmt.Errorf("%d of %d vfos are invalid", failed, len(env.cfg.VFOs)))
	}
}

// checkVFOs validates the initial VFOs in the order in which they are added and returns the number of
// invalid VFOs.
func checkVFOs(out io.Writer, cfg *config.Config) int {
	ctx := vfo.ValidationContext{
		HardwareCenterHz: cfg.Hardware.CenterHz,
		SampleRateHz:     float64(cfg.Hardware.SampleRate),
		MaxVFOs:          cfg.MaxVFOs,
		Spacing:          cfg.SpacingTable(),
	}
	lo, hi := vfo.Hardware{CenterHz: ctx.HardwareCenterHz, SampleRateHz: ctx.SampleRateHz}.Window()
	fmt.Fprintf(out, "hardware window %.3f-%.3fkHz, at most %d vfos\n", lo/1000, hi/1000, cfg.MaxVFOs)

	failed := 0
	for _, v := range cfg.InitialVFOs() {
		warnings, err := vfo.Validate(v, ctx)
		if err != nil {
			fmt.Fprintf(out, "%s: invalid: %v\n", v, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", v)
		for _, warning := range warnings {
			fmt.Fprintf(out, "  warning: %s\n", warning.Message)
		}
		ctx.ExistingVFOs = append(ctx.ExistingVFOs, v)
	}
	return failed
}
