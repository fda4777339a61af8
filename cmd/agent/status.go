package main

import (
	"github.com/spf13/cobra"

	"example.com/worktrack/internal/agent/queue"
)

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state and local queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := e.state.Get()
			if !st.LoggedIn() {
				cmd.Println("not logged in")
			} else {
				cmd.Printf("Server: %s\n", e.apiURL())
				cmd.Printf("User: %s (tenant %s)\n", st.UserID, st.TenantID)
				cmd.Printf("Device: %s\n", orNone(st.DeviceID))
			}

			q, err := queue.Open(e.cfg.QueuePath())
			if err != nil {
				return err
			}
			defer q.Close()
			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Queued segments: %d\n", stats.Activities)
			cmd.Printf("Queued screenshots: %d\n", stats.Screenshots)
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
