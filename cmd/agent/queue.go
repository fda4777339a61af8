package main

import (
	"time"

	"github.com/spf13/cobra"

	"example.com/worktrack/internal/agent/queue"
)

func newQueueCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List items waiting for delivery, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queue.Open(e.cfg.QueuePath())
			if err != nil {
				return err
			}
			defer q.Close()

			segments, err := q.DequeueActivities(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, seg := range segments {
				idle := ""
				if seg.Idle {
					idle = " idle"
				}
				cmd.Printf("segment %d  %s  %s  %s%s\n", seg.ID,
					seg.StartedAt.Local().Format(time.DateTime),
					seg.EndedAt.Sub(seg.StartedAt).Round(time.Second), seg.AppName, idle)
			}

			shots, err := q.PendingScreenshots(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, shot := range shots {
				cmd.Printf("screenshot %d  %s  attempts=%d  %s\n", shot.ID,
					shot.TakenAt.Local().Format(time.DateTime), shot.Attempts, shot.FilePath)
			}
			if len(segments) == 0 && len(shots) == 0 {
				cmd.Println("queue is empty")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to list per queue")
	return cmd
}
