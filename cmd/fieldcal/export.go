package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fieldcal/internal/ics"
	"fieldcal/internal/jobs"
)

func newExportCmd(configPath *string) *cobra.Command {
	var (
		scheduleID int64
		out        string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a schedule as an ICS calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), *configPath)
			if err != nil {
				return err
			}
			id, err := a.scheduleID(scheduleID)
			if err != nil {
				return err
			}
			names := func(fid int64) string {
				if f := a.fields.Get(fid); f != nil {
					return f.Name
				}
				return ""
			}
			body := ics.Export(a.store.Schedule(id), names, time.Now().UTC())
			if out == "" || out == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			return os.WriteFile(out, []byte(body), 0o644)
		},
	}
	cmd.Flags().Int64VarP(&scheduleID, "schedule", "s", 0, "schedule id (defaults to the selected schedule)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (defaults to stdout)")
	return cmd
}

func newImportCmd(configPath *string) *cobra.Command {
	var scheduleID int64

	cmd := &cobra.Command{
		Use:   "import <file-or-url>",
		Short: "Import an ICS calendar into a schedule",
		Long:  "Upserts the events of an ICS file or URL into a schedule, keyed by UID and RECURRENCE-ID.",
		Args:  cobra.ExactArgs(1),
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

			src := args[0]
			var body []byte
			if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
				p, err := ics.NewFetcher(a.cfg.CacheDir, nil).Fetch(ctx, ics.Subscription{ID: "cli", URL: src, ScheduleID: id})
				if err != nil {
					return err
				}
				body = p.Body
			} else if body, err = os.ReadFile(src); err != nil {
				return err
			}

			recs, err := ics.Parse(id, body)
			if err != nil {
				return err
			}
			if err := jobs.ImportInto(ctx, a.repo, a.store, id, recs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d events into schedule %d\n", len(recs), id)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&scheduleID, "schedule", "s", 0, "schedule id (defaults to the selected schedule)")
	return cmd
}
