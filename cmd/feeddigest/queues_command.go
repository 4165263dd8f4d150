package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/service"
)

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show the number of buffered items per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := service.NewRegistrationService(s.repo, s.queue, zap.NewNop())
			depths, err := svc.QueueDepths(cmd.Context())
			if err != nil {
				return err
			}
			if len(depths) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no queues")
				return nil
			}

			keys := make([]string, 0, len(depths))
			for k := range depths {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			total := 0
			for _, k := range keys {
				n := depths[domain.QueueKey(k)]
				total += n
				rows = append(rows, []string{k, strconv.Itoa(n)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(total)})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Queue", "Items"}, rows))
			return nil
		},
	}
}
