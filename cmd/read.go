package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/acquisition"
	"github.com/mearec/mealog/internal/service"
	"github.com/mearec/mealog/internal/store"
)

var readCmd = &cobra.Command{
	Use:   "read [name]",
	Short: "Print a sample range of a recording",
	Long: `Read samples [start, end) of every channel, or of the selected channels, and
print one line per sample. Reading a live recording stops at its last valid sample.

With --format binary the raw block is written in the stream source format, so it
can be fed back into 'mealog record --source stream'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetUint32("start")
		end, _ := cmd.Flags().GetUint32("end")
		voltage, _ := cmd.Flags().GetBool("voltage")
		channels, _ := cmd.Flags().GetIntSlice("channels")
		format, _ := cmd.Flags().GetString("format")

		svc := newService(service.Options{})
		defer svc.Close()

		rec, err := svc.OpenRecording(args[0])
		if err != nil {
			return err
		}
		defer rec.Close()

		if end == 0 {
			end = rec.LastValidSample()
		}
		for _, c := range channels {
			if c < 0 || c >= int(rec.Channels()) {
				return fmt.Errorf("channel %d out of range [0, %d)", c, rec.Channels())
			}
		}

		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()

		switch {
		case format == "binary":
			if voltage || len(channels) > 0 {
				return fmt.Errorf("binary output carries raw samples of every channel")
			}
			m, err := rec.ReadSamples(start, end)
			if err != nil {
				return err
			}
			return acquisition.WriteBlock(out, m)
		case format != "tsv":
			return fmt.Errorf("unknown format %q, expected tsv or binary", format)
		case voltage:
			m, err := rec.ReadVoltage(start, end)
			if err != nil {
				return err
			}
			return writeTable(out, start, m, channels, func(v float64) string {
				return strconv.FormatFloat(v, 'g', 8, 64)
			})
		default:
			m, err := rec.ReadSamples(start, end)
			if err != nil {
				return err
			}
			return writeTable(out, start, m, channels, func(v int16) string {
				return strconv.Itoa(int(v))
			})
		}
	},
}

// writeTable prints one tab-separated line per sample: the sample index
// followed by the value of each selected channel.
func writeTable[T store.Element](w io.Writer, start uint32, m *store.Matrix[T], channels []int, format func(T) string) error {
	if len(channels) == 0 {
		channels = make([]int, m.Channels)
		for c := range channels {
			channels[c] = c
		}
	}
	for i := 0; i < m.Samples; i++ {
		line := strconv.FormatUint(uint64(start)+uint64(i), 10)
		for _, c := range channels {
			line += "\t" + format(m.At(c, i))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	readCmd.Flags().Uint32("start", 0, "first sample")
	readCmd.Flags().Uint32("end", 0, "end sample, exclusive (default is the last valid sample)")
	readCmd.Flags().Bool("voltage", false, "print calibrated volts instead of raw counts")
	readCmd.Flags().IntSlice("channels", nil, "channels to print (default all)")
	readCmd.Flags().StringP("format", "f", "tsv", "output format: tsv or binary")
	rootCmd.AddCommand(readCmd)
}
