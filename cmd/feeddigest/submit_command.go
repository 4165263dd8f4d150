package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/service"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req domain.SubmitRequest

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a link on the priority lane for one recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			item, err := service.NewRegistrationService(s.repo, s.queue, logger).Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s for %d\n", item.Link, item.RecipientID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&req.RecipientID, "user", 0, "Recipient chat id")
	cmd.Flags().StringVar(&req.Link, "link", "", "Item link")
	cmd.Flags().StringVar(&req.Title, "title", "", "Item title (defaults to the link)")
	cmd.Flags().StringVar(&req.SourceName, "source-name", "", "Source name shown in the notification")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("link")
	return cmd
}
