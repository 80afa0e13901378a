package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mearec/mealog/internal/acquisition"
	"github.com/mearec/mealog/internal/config"
	"github.com/mearec/mealog/internal/recording"
	"github.com/mearec/mealog/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show resolved configuration and recording metadata",
	Long: `Display the file path and stored attributes of the named recording, followed by
the resolved configuration with inheritance indicators. Shows which values are
inherited from default vs profile-specific.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			if err := printRecordingInfo(args[0]); err != nil {
				return err
			}
		}

		// Display resolved configuration with inheritance indicators
		inh := cfg.Inheritance
		if inh == nil {
			inh = &config.InheritanceInfo{}
		}
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("sample_rate: %g %s\n", cfg.Recording.SampleRate, getInheritanceIndicator(inh.Recording.SampleRate))
		fmt.Printf("channels: %d %s\n", cfg.Recording.Channels, getInheritanceIndicator(inh.Recording.Channels))
		fmt.Printf("block_size: %d %s\n", cfg.Recording.BlockSize, getInheritanceIndicator(inh.Recording.BlockSize))
		fmt.Printf("length: %g %s\n", cfg.Recording.Length, getInheritanceIndicator(inh.Recording.Length))
		fmt.Printf("adc_range: %g %s\n", cfg.Recording.ADCRange, getInheritanceIndicator(inh.Recording.ADCRange))
		fmt.Printf("room: %s %s\n", cfg.Recording.Room, getInheritanceIndicator(inh.Recording.Room))
		if rc, err := cfg.RecordingConfig(); err == nil {
			fmt.Printf("nsamples: %d\n", rc.NumSamples())
			fmt.Printf("gain: %g\n", rc.Gain())
			fmt.Printf("offset: %g\n", rc.Offset())
		}

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
		fmt.Printf("overwrite: %t %s\n", cfg.Output.AllowOverwrite(), getInheritanceIndicator(inh.Output.Overwrite))

		fmt.Printf("\n[Acquisition]\n")
		fmt.Printf("source: %s %s\n", cfg.Acquisition.Source, getInheritanceIndicator(inh.Acquisition.Source))
		fmt.Printf("input: %s %s\n", cfg.Acquisition.Input, getInheritanceIndicator(inh.Acquisition.Input))
		fmt.Printf("realtime: %t %s\n", cfg.Acquisition.RealtimeEnabled(), getInheritanceIndicator(inh.Acquisition.Realtime))
		fmt.Printf("seed: %d %s\n", cfg.Acquisition.Seed, getInheritanceIndicator(inh.Acquisition.Seed))

		return nil
	},
}

func printRecordingInfo(name string) error {
	path := name
	if filepath.Ext(name) != recording.Extension {
		path = filepath.Join(cfg.Output.Directory, acquisition.CleanFileName(name)+recording.Extension)
	}
	fmt.Printf("=== FILE PATHS ===\n")
	fmt.Printf("recording: %s\n", path)

	svc := newService(service.Options{})
	defer svc.Close()

	snap, err := svc.GetRecordingInfo(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("(not recorded yet)\n")
		return nil
	}
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("error marshaling recording info: %w", err)
	}
	fmt.Printf("\n=== RECORDING ===\n")
	fmt.Print(string(out))
	fmt.Printf("duration: %.3f s\n", snap.Duration())
	return nil
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "global":
		return "[global]"
	default:
		return "[default]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
