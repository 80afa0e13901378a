package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/acquisition"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available acquisition sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Acquisition sources (%d):\n", len(acquisition.AvailableSources()))
		for _, source := range acquisition.AvailableSources() {
			fmt.Printf("  %-10s %s\n", source, describeSource(source))
		}
		fmt.Printf("\nConfigure in acquisition.source; stream sources read acquisition.input (- for stdin).\n")
		return nil
	},
}

func describeSource(t acquisition.SourceType) string {
	switch t {
	case acquisition.SourceTypeSynthetic:
		return "deterministic test signal, paced to the sample rate unless realtime is false"
	case acquisition.SourceTypeStream:
		return "channel-major little-endian int16 blocks from a file or stdin"
	default:
		return ""
	}
}
