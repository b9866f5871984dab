package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-render/internal/composition"
)

func newPlanCommand() *cobra.Command {
	var (
		fps           float64
		width, height int
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "plan <design.json|->",
		Short: "Show how a design would be rendered without rendering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDesign(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			plan := composition.NewPlan(d, composition.Settings{FPS: fps, Width: width, Height: height})
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	cmd.Flags().Float64Var(&fps, "fps", 0, "Frame rate override")
	cmd.Flags().IntVar(&width, "width", 0, "Width override")
	cmd.Flags().IntVar(&height, "height", 0, "Height override")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the plan as JSON")
	return cmd
}

func printPlan(w io.Writer, p *composition.Plan) {
	seconds := float64(p.DurationInFrames) / p.FPS
	fmt.Fprintf(w, "Size:       %dx%d\n", p.Width, p.Height)
	fmt.Fprintf(w, "Frame rate: %s fps\n", strconv.FormatFloat(p.FPS, 'f', -1, 64))
	fmt.Fprintf(w, "Duration:   %d frames (%.2fs)\n", p.DurationInFrames, seconds)
	if p.Empty {
		fmt.Fprintln(w, "Design has no items")
		return
	}

	fmt.Fprintln(w, groupsTable(p))
	for _, issue := range p.Issues {
		fmt.Fprintf(w, "warning: %s\n", issue)
	}
}

func groupsTable(p *composition.Plan) string {
	rows := make([][]string, 0, len(p.Groups))
	for i, g := range p.Groups {
		var items, kinds, spans []string
		for _, id := range g.Items {
			items = append(items, id)
			item := p.Items.Get(id)
			if item == nil {
				kinds = append(kinds, "missing")
				spans = append(spans, "")
				continue
			}
			kinds = append(kinds, composition.KindOf(item.Type).String())
			from, to := item.Display.Span()
			spans = append(spans, fmt.Sprintf("%.0f-%.0fms", from, to))
		}
		transition := ""
		if g.IsTransition() {
			transition = fmt.Sprintf("%s %.0fms", g.Transition.Name(), g.Transition.Duration.Or(0))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strings.Join(items, ", "),
			strings.Join(kinds, ", "),
			strings.Join(spans, ", "),
			transition,
		})
	}
	return renderTable(
		[]string{"#", "Items", "Kind", "Display", "Transition"},
		rows,
		[]columnAlignment{alignRight},
	)
}
