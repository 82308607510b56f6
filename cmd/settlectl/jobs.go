package main

import (
	"github.com/spf13/cobra"
	"github.com/ton-giveaways/backend/internal/db"
	"github.com/ton-giveaways/backend/internal/events"
	"github.com/ton-giveaways/backend/internal/repositories"
	"github.com/ton-giveaways/backend/internal/settlement"
	"github.com/ton-giveaways/backend/internal/ton"
)

func init() {
	rootCmd.AddCommand(
		jobCommand(settlement.JobReconcile, "Mirror new operator wallet deposits into the store"),
		jobCommand(settlement.JobDraw, "Draw every ended lottery"),
		jobCommand(settlement.JobPayout, "Pay every participant awaiting payment"),
	)
}

// jobCommand runs one invocation of a settlement job, for use from an external cron.
func jobCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, cleanup, err := setup(ctx, "settlectl")
			if err != nil {
				return err
			}
			defer cleanup()

			var publisher events.Publisher = events.Nop{}
			rdb, err := db.NewRedisClient(ctx, e.cfg.RedisURL, e.log)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
				publisher = events.NewRedisPublisher(rdb, e.log)
			}

			api, err := ton.Connect(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			client, err := ton.NewClient(api, e.cfg, e.log)
			if err != nil {
				return err
			}
			var sender settlement.Sender
			if client.CanSign() {
				sender = client
			}

			jobs := settlement.NewJobs(e.cfg, repositories.NewSettlementStore(e.pool), client, sender, publisher, nil, e.log)
			return jobs.Run(ctx, name)
		},
	}
}
