package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

// BackfillCommand queues a mailbox import. A running serve instance picks the
// job up; the command itself returns as soon as the job is durably enqueued.
func BackfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Queue a Help Scout mailbox import",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "pages",
				Value: 1,
				Usage: "How many mailbox pages to import (max 50)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			pages := c.Int("pages")
			if pages < 1 {
				pages = 1
			}
			if pages > 50 {
				pages = 50
			}

			ctx := context.Background()
			app, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.queue.EnqueueBackfill(ctx, pages); err != nil {
				return err
			}
			fmt.Printf("Backfill queued for %d page(s).\n", pages)
			return nil
		},
	}
}
