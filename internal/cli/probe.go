// ABOUTME: Buffer negotiation probe command
// ABOUTME: Prints every open attempt made for the configured format
package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/Resonate-Protocol/trackbridge/internal/app"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newProbeCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Negotiate a device buffer and report every attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dev, err := output.New(st.cfg.Device)
			if err != nil {
				return err
			}

			res, probeErr := app.Probe(dev, st.cfg, log.Default().WithPrefix("probe"))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device:  %s\n", res.Device)
			fmt.Fprintf(out, "format:  %s\n", st.cfg.Format)
			fmt.Fprintf(out, "target:  %d frames (%d bytes)\n",
				st.cfg.TargetFrames, st.cfg.Format.FramesToBytes(st.cfg.TargetFrames))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ATTEMPT\tBYTES\tFRAMES\tSTATE\tRESULT")
			for i, a := range res.Attempts {
				result := "ok"
				if a.Err != nil {
					result = a.Err.Error()
				} else if !a.OK() {
					result = "rejected"
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n",
					i+1, a.Size, st.cfg.Format.BytesToFrames(a.Size), a.State, result)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if probeErr != nil {
				return probeErr
			}
			fmt.Fprintf(out, "negotiated: %d bytes (%d frames), device minimum %d bytes\n",
				res.BufferBytes, st.cfg.Format.BytesToFrames(res.BufferBytes), res.MinBufferBytes)
			return nil
		},
	}
}
