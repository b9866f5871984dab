package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-render/internal/client"
	"github.com/heimdex/heimdex-render/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string

	configOnce sync.Once
	config     *config.EnvConfig
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

// client builds an API client for the configured server, honoring --server.
func (c *commandContext) client() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	base := cfg.ServerURL()
	if s := strings.TrimSpace(*c.serverFlag); s != "" {
		base = s
	}
	return client.New(base,
		client.WithToken(cfg.APIToken()),
		client.WithPollInterval(cfg.PollInterval()),
	), nil
}

func newRootCommand() *cobra.Command {
	var configFlag, serverFlag string
	ctx := &commandContext{configFlag: &configFlag, serverFlag: &serverFlag}

	rootCmd := &cobra.Command{
		Use:           "renderd",
		Short:         "Render editor designs to video",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Render server URL (overrides config)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newPlanCommand())

	return rootCmd
}
