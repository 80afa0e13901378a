package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/service"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings in the output directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(service.Options{})
		defer svc.Close()

		recordings, err := svc.ListRecordings()
		if err != nil {
			return err
		}
		if len(recordings) == 0 {
			fmt.Printf("No recordings in %s\n", cfg.Output.Directory)
			return nil
		}
		for _, r := range recordings {
			fmt.Printf("%-32s %10s  %s\n", r.Name, r.SizeHuman, r.ModTimeHuman)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
