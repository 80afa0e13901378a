package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/service"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize [name]",
	Short: "Finalize a recording left live by an interrupted writer",
	Long: `Mark a recording as no longer live. Recordings are finalized by 'record'
itself; this is for files whose writer was killed. With --trim the space
reserved past the last valid sample is released and nsamples shrinks to match.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trim, _ := cmd.Flags().GetBool("trim")

		svc := newService(service.Options{})
		defer svc.Close()

		snap, err := svc.FinalizeRecording(args[0], trim)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d samples (%.3f s), live=%t\n", snap.Filename, snap.LastValidSample, snap.Duration(), snap.Live)
		return nil
	},
}

func init() {
	finalizeCmd.Flags().Bool("trim", false, "release storage past the last valid sample")
	rootCmd.AddCommand(finalizeCmd)
}
