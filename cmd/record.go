package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/service"
	"github.com/mearec/mealog/internal/status"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record a session into a new container file",
	Long: `Create a recording sized for the configured length and append acquisition
blocks until it is full, the source ends, or Ctrl+C is pressed. The recording is
finalized in every case, so readers see a complete file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := applyRecordFlags(cmd); err != nil {
			return err
		}
		slog.Info("Record command started", "name", name)

		tp, shutdownTracing := initTracerProvider(verboseLevel, slog.Default())
		defer shutdownTracing()

		svc := newService(service.Options{Tracer: tp.Tracer("github.com/mearec/mealog")})
		defer svc.Close()

		if err := svc.InitRecording(name); err != nil {
			return fmt.Errorf("failed to init recording: %w", err)
		}

		// Handle interruption
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.StartRecording(ctx); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording... Press Ctrl+C to stop")

		if err := svc.WaitRecording(); err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}

		reply, err := svc.Status(status.AllFields())
		if err != nil {
			return err
		}
		_, session := svc.GetRecordingStatus()
		fmt.Printf("file: %s\n", *reply.Filename)
		fmt.Printf("samples: %d/%d\n", *reply.LastValidSample, *reply.NSamples)
		if session != nil {
			fmt.Printf("blocks: %d\n", session.Blocks)
		}
		return nil
	},
}

// applyRecordFlags overlays command line overrides onto the loaded config
func applyRecordFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output.Directory, _ = flags.GetString("output")
	}
	if flags.Changed("length") {
		cfg.Recording.Length, _ = flags.GetFloat64("length")
	}
	if flags.Changed("source") {
		cfg.Acquisition.Source, _ = flags.GetString("source")
	}
	if flags.Changed("input") {
		cfg.Acquisition.Input, _ = flags.GetString("input")
	}
	if flags.Changed("overwrite") {
		overwrite, _ := flags.GetBool("overwrite")
		cfg.Output.Overwrite = &overwrite
	}
	if flags.Changed("realtime") {
		realtime, _ := flags.GetBool("realtime")
		cfg.Acquisition.Realtime = &realtime
	}
	return cfg.Validate()
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().Float64P("length", "l", 0, "recording length in seconds (overrides config)")
	recordCmd.Flags().StringP("source", "s", "", "acquisition source: synthetic or stream (overrides config)")
	recordCmd.Flags().StringP("input", "i", "", "stream input file, - for stdin (overrides config)")
	recordCmd.Flags().Bool("overwrite", false, "replace an existing recording with the same name")
	recordCmd.Flags().Bool("realtime", true, "pace the synthetic source to the sample rate")
}
