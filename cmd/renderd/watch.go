package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-render/internal/client"
	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/render"
	"github.com/heimdex/heimdex-render/internal/watcher"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var (
		interval time.Duration
		format   string
		fps      float64
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Submit every design JSON file written to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := render.Options{Format: format}
			if fps > 0 {
				opts.FPS = design.N(fps)
			}

			w := watcher.NewPollWatcher(interval, watcher.MatchExt(".json"), nil)
			w.OnChange(func(path string, ev watcher.EventType) {
				if ev == watcher.EventDelete {
					return
				}
				id, err := submitFile(runCtx, c, path, opts)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) -> %s\n", path, ev, id)
			})
			return w.Watch(runCtx, args[0])
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", watcher.DefaultInterval, "Directory scan interval")
	cmd.Flags().StringVar(&format, "format", "mp4", "Output format: mp4 or gif")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frame rate (defaults to the design's)")
	return cmd
}

func submitFile(ctx context.Context, c *client.Client, path string, opts render.Options) (string, error) {
	d, err := readDesign(os.Stdin, path)
	if err != nil {
		return "", err
	}
	v, err := c.Submit(ctx, render.SubmitRequest{Design: d, Options: &opts})
	if err != nil {
		return "", err
	}
	return v.ID, nil
}
