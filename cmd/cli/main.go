package main

import (
	"log"

	"github.com/absmach/fedrun/cli"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath     string
		historyDir     string
		coordinatorURL string
	)

	rootCmd := &cobra.Command{
		Use:   "fedrun-cli",
		Short: "fedrun CLI",
		Long:  `fedrun CLI inspects the run history and queries a running coordinator.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if historyDir != "" {
				cfg.History.Dir = historyDir
			}
			if coordinatorURL != "" {
				cfg.Coordinator.URL = coordinatorURL
			}
			cli.SetSDK(sdk.NewSDK(sdk.Config{
				CoordinatorURL:  cfg.Coordinator.URL,
				TLSVerification: cfg.Coordinator.TLSVerification,
			}))

			s, err := history.NewFileStore(cfg.History.Dir, cfg.History.MaxMessageSize)
			if err != nil {
				return err
			}
			cli.SetStore(s)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", cli.DefConfigPath, "Config file")
	rootCmd.PersistentFlags().StringVarP(&historyDir, "dir", "d", "", "History directory, overrides the config file")
	rootCmd.PersistentFlags().StringVarP(&coordinatorURL, "url", "u", "", "Coordinator URL, overrides the config file")

	rootCmd.AddCommand(cli.NewHistoryCmd())
	rootCmd.AddCommand(cli.NewCoordinatorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
