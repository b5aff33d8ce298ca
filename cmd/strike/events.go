package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/queue"
)

func (a *app) eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow the audit event mirror queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.QueueName == "" {
				return fmt.Errorf("no event queue configured: set queue_name in the config file or STRIKE_QUEUE_NAME")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Following queue %s (ctrl-c to stop)...\n", a.cfg.QueueName)
			queue.ListenWithRetry(cmd.Context(), a.cfg.QueueName, func(msg string) {
				env, err := queue.ParseEnvelope(msg)
				if err != nil {
					slog.Warn("Skipping malformed event", "error", err)
					return
				}
				fmt.Fprintln(out, formatEvent(env))
			})
			return nil
		},
	}
}

// formatEvent renders one envelope as a single display line with payload
// keys in stable order.
func formatEvent(e queue.Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-20s", e.Timestamp.Format("15:04:05"), e.Type)

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Payload[k])
	}
	return b.String()
}
