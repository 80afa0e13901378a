package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/service"
	"github.com/mearec/mealog/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Answer a status query about a recording",
	Long: `Answer a status query from the recording's stored attributes and print the
reply as JSON. Only the requested fields are present in the reply.

Fields: ` + strings.Join(status.Fields[1:], ", ") + `

A query may also be given as a JSON object, e.g. --query '{"live": true}'.
With --watch the query is repeated, following a recording that another
process is writing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, _ := cmd.Flags().GetStringSlice("fields")
		query, _ := cmd.Flags().GetString("query")
		watch, _ := cmd.Flags().GetDuration("watch")

		svc := newService(service.Options{})
		defer svc.Close()

		rec, err := svc.OpenRecording(args[0])
		if err != nil {
			return err
		}
		defer rec.Close()

		responder := status.NewResponder()
		responder.Attach(rec.View(), nil)

		answer := func() error {
			var out []byte
			if query != "" {
				out, err = responder.RespondJSON([]byte(query))
			} else {
				req := status.AllFields()
				if len(fields) > 0 {
					if req, err = status.RequestFor(fields...); err != nil {
						return err
					}
				}
				var reply status.Reply
				if reply, err = responder.Respond(req); err != nil {
					return err
				}
				out, err = reply.MarshalProtoJSON()
			}
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if err := answer(); err != nil || watch <= 0 {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ticker := time.NewTicker(watch)
		defer ticker.Stop()
		for rec.Live() {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := rec.Refresh(); err != nil {
				return fmt.Errorf("failed to refresh recording: %w", err)
			}
			if err := answer(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringSlice("fields", nil, "fields to request (default all)")
	statusCmd.Flags().String("query", "", "status query as a JSON object")
	statusCmd.Flags().Duration("watch", 0, "repeat the query at this interval until the recording is finalized")
	rootCmd.AddCommand(statusCmd)
}
