package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"fieldcal/internal/field"
	"fieldcal/internal/timeutil"
	"fieldcal/internal/view"
	"fieldcal/internal/web"
)

func newDayCmd(configPath *string) *cobra.Command {
	var (
		scheduleID int64
		date       string
		fields     string
	)

	cmd := &cobra.Command{
		Use:   "day",
		Short: "Print one day of a schedule",
		Long:  "Prints the occurrences of one day with their grid placement and conflicts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			id, err := a.scheduleID(scheduleID)
			if err != nil {
				return err
			}

			day := timeutil.DayOf(time.Now().UTC())
			if date != "" {
				if day, err = timeutil.ParseDate(date); err != nil {
					return err
				}
			}
			fullIDs, err := web.ParseIDList(fields)
			if err != nil {
				return fmt.Errorf("invalid --fields %q: %w", fields, err)
			}
			slots, err := a.cfg.Slots()
			if err != nil {
				return err
			}

			p := view.Build(a.store.Schedule(id), a.fields, fullIDs, slots, day, time.Now().UTC())
			printDay(cmd.OutOrStdout(), p, a.fields)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&scheduleID, "schedule", "s", 0, "schedule id (defaults to the selected schedule)")
	cmd.Flags().StringVarP(&date, "date", "d", "", "day to show as YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&fields, "fields", "", "comma separated main field ids in column order")
	return cmd
}

func printDay(w io.Writer, p view.Pass, h *field.Hierarchy) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)
	red := color.New(color.FgRed)

	title := fmt.Sprintf("%s  schedule %d", p.Date, p.ScheduleID)
	if p.Draft {
		title += "  (draft)"
	}
	fmt.Fprintln(w, bold.Sprint(title))

	if len(p.Blocks) == 0 {
		fmt.Fprintln(w, faint.Sprint("no occurrences"))
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 40
	tbl.AddRow(bold.Sprint("Time"), bold.Sprint("Title"), bold.Sprint("Field"), bold.Sprint("Rows"), bold.Sprint("Conflicts"))
	for _, b := range p.Blocks {
		name := faint.Sprint("unassigned")
		if b.FieldID != nil {
			if f := h.Get(*b.FieldID); f != nil {
				name = f.Name
			}
		}
		if b.Unplaced && b.FieldID != nil {
			name += faint.Sprint(" (hidden)")
		}
		titleCol := b.Title
		if b.IsRecurring {
			titleCol += faint.Sprint(" ↻")
		}
		conflicts := faint.Sprint("-")
		if len(b.Conflicts) > 0 {
			conflicts = red.Sprint(strings.Join(b.Conflicts, ", "))
		}
		tbl.AddRow(
			timeutil.FormatClock(b.Start)+"-"+timeutil.FormatClock(b.End),
			titleCol,
			name,
			fmt.Sprintf("%d-%d", b.StartRow, b.EndRow),
			conflicts,
		)
	}
	fmt.Fprintln(w, tbl)
}
