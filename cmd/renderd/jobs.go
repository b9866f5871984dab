package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-render/internal/api"
	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/render"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		fps           float64
		width, height int
		format        string
		wait          bool
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <design.json|->",
		Short: "Submit a design for rendering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDesign(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			opts := &render.Options{Format: format}
			if fps > 0 {
				opts.FPS = design.N(fps)
			}
			if width > 0 {
				opts.Size.Width = design.N(float64(width))
			}
			if height > 0 {
				opts.Size.Height = design.N(float64(height))
			}

			v, err := c.Submit(cmd.Context(), render.SubmitRequest{Design: d, Options: opts})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				return printVideo(out, *v, jsonOut)
			}

			progressOut := cmd.ErrOrStderr()
			printer := newProgressPrinter(progressOut, isTerminal(progressOut))
			final, err := c.Wait(cmd.Context(), v.ID, printer.update)
			printer.finish()
			if err != nil {
				return err
			}
			if err := printVideo(out, *final, jsonOut); err != nil {
				return err
			}
			if final.Status != string(render.StatusCompleted) {
				return fmt.Errorf("render %s ended %s", final.ID, final.Status)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", 0, "Frame rate (defaults to the design's)")
	cmd.Flags().IntVar(&width, "width", 0, "Output width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "Output height in pixels")
	cmd.Flags().StringVar(&format, "format", "mp4", "Output format: mp4 or gif")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the render finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a render job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printVideo(cmd.OutOrStdout(), *v, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running render",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := c.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printVideo(cmd.OutOrStdout(), *v, false)
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent render jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := c.Jobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No render jobs")
				return nil
			}
			fmt.Fprintln(out, jobsTable(jobs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum jobs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func jobsTable(jobs []api.JobResponse) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.Status,
			strconv.Itoa(j.Progress) + "%",
			j.Format,
			shortTime(j.CreatedAt),
			shortTime(j.FinishedAt),
			j.Error,
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Progress", "Format", "Created", "Finished", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
}

func shortTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func readDesign(stdin io.Reader, path string) (*design.Design, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read design: %w", err)
	}
	return design.Parse(data)
}

func printVideo(w io.Writer, v api.VideoResponse, jsonOut bool) error {
	if jsonOut {
		return writeJSON(w, api.RenderResponse{Video: v})
	}
	fmt.Fprintf(w, "%s  %s  %d%%\n", v.ID, v.Status, v.Progress)
	if v.URL != "" {
		fmt.Fprintf(w, "url: %s\n", v.URL)
	}
	if v.Error != "" {
		fmt.Fprintf(w, "error: %s\n", v.Error)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// progressPrinter reports polled job state. On a terminal it redraws one
// line; otherwise it prints a line per change.
type progressPrinter struct {
	w    io.Writer
	tty  bool
	last string
}

func newProgressPrinter(w io.Writer, tty bool) *progressPrinter {
	return &progressPrinter{w: w, tty: tty}
}

func (p *progressPrinter) update(v api.VideoResponse) {
	line := fmt.Sprintf("%s %3d%%", v.Status, v.Progress)
	if line == p.last {
		return
	}
	p.last = line
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(p.w, line)
}

func (p *progressPrinter) finish() {
	if p.tty && p.last != "" {
		fmt.Fprintln(p.w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
