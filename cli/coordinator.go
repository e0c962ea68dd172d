package cli

import (
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/sdk"
	"github.com/spf13/cobra"
)

var fedSDK sdk.SDK

func SetSDK(s sdk.SDK) {
	fedSDK = s
}

func NewCoordinatorCmd() *cobra.Command {
	var offset, limit uint64 = 0, 10

	cmd := &cobra.Command{
		Use:   "coordinator [participants|health|runs|run]",
		Short: "Running coordinator",
		Long:  `Query a running coordinator over its HTTP API.`,
	}

	participantsCmd := &cobra.Command{
		Use:   "participants",
		Short: "List participants",
		Long:  `List participants registered with the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fedSDK.Participants(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Coordinator health",
		Long:  `Show the coordinator health status.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			h, err := fedSDK.Health(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, h)
		},
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		Long:  `List runs committed by the coordinator, newest first.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fedSDK.Runs(cmd.Context(), sdk.PageMetadata{Offset: offset, Limit: limit})
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <version|latest>",
		Short: "Show run",
		Long:  `Show one run committed by the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			var (
				r   history.RunRecord
				err error
			)
			switch args[0] {
			case "latest":
				r, err = fedSDK.LatestRun(cmd.Context())
			default:
				var v history.Version
				if v, err = history.ParseVersion(args[0]); err == nil {
					r, err = fedSDK.Run(cmd.Context(), v)
				}
			}
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	cmd.AddCommand(participantsCmd)
	cmd.AddCommand(healthCmd)
	cmd.AddCommand(runsCmd)
	cmd.AddCommand(runCmd)

	runsCmd.Flags().Uint64VarP(&offset, "offset", "o", offset, "Offset")
	runsCmd.Flags().Uint64VarP(&limit, "limit", "l", limit, "Limit")

	return cmd
}
