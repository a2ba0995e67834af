package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/chorus/internal/seat"
)

const seatsProbeTimeout = 5 * time.Second

type seatRow struct {
	Seat      seat.ID `json:"seat"`
	Model     string  `json:"model"`
	Role      string  `json:"role"`
	Available *bool   `json:"available,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func newSeatsCmd(v *viper.Viper) *cobra.Command {
	var (
		probe  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "seats",
		Short: "Show the seat to model resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp(cmd, v)
			if err != nil {
				return err
			}
			defer app.Close()

			rows := make([]seatRow, 0, len(seat.HelperOrder))
			for _, d := range app.engine.SeatDescriptors() {
				row := seatRow{Seat: d.ID, Model: d.Model, Role: d.Role}
				if probe {
					probeSeat(cmd.Context(), app.invoker.Prober(), &row)
				}
				rows = append(rows, row)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeSeatTable(cmd, rows, probe)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "check each model against the model host")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func probeSeat(ctx context.Context, prober *seat.Prober, row *seatRow) {
	available := false
	row.Available = &available
	if prober == nil {
		row.Error = "no prober"
		return
	}
	ctx, cancel := context.WithTimeout(ctx, seatsProbeTimeout)
	defer cancel()
	ok, err := prober.Probe(ctx, row.Model)
	if err != nil {
		row.Error = err.Error()
		return
	}
	available = ok
}

type tableStyles struct {
	header      lipgloss.Style
	cell        lipgloss.Style
	available   lipgloss.Style
	unavailable lipgloss.Style
}

func newTableStyles() tableStyles {
	return tableStyles{
		header:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("241")),
		cell:        lipgloss.NewStyle(),
		available:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		unavailable: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
	}
}

func seatStatus(r seatRow) string {
	switch {
	case r.Error != "":
		return "error: " + r.Error
	case r.Available == nil || !*r.Available:
		return "unavailable"
	}
	return "available"
}

func writeSeatTable(cmd *cobra.Command, rows []seatRow, probed bool) error {
	st := newTableStyles()
	header := []string{"SEAT", "MODEL", "ROLE"}
	if probed {
		header = append(header, "STATUS")
	}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := []string{string(r.Seat), r.Model, r.Role}
		if probed {
			line = append(line, seatStatus(r))
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(header))
	for _, line := range append([][]string{header}, cells...) {
		for i, c := range line {
			widths[i] = max(widths[i], lipgloss.Width(c)+2)
		}
	}

	render := func(line []string, style func(col int, text string) lipgloss.Style) string {
		parts := make([]string, len(line))
		for i, c := range line {
			parts[i] = style(i, c).Width(widths[i]).Render(c)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, render(header, func(int, string) lipgloss.Style { return st.header }))
	for _, line := range cells {
		fmt.Fprintln(out, render(line, func(col int, text string) lipgloss.Style {
			if col != 3 {
				return st.cell
			}
			if text == "available" {
				return st.available
			}
			return st.unavailable
		}))
	}
	return nil
}
