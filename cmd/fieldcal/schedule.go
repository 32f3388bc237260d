package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"fieldcal/internal/model"
	"fieldcal/internal/timeutil"
)

func newScheduleCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}
	cmd.AddCommand(newScheduleListCmd(configPath))
	cmd.AddCommand(newScheduleCreateCmd(configPath))
	return cmd
}

func newScheduleListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), *configPath)
			if err != nil {
				return err
			}
			bold := color.New(color.Bold)
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold.Sprint("ID"), bold.Sprint("Name"), bold.Sprint("Active"), bold.Sprint("Entries"))
			for _, s := range a.store.Summaries() {
				active := "draft"
				if !s.Draft {
					active = formatDay(s.ActiveFrom) + " .. " + formatDay(s.ActiveUntil)
				}
				tbl.AddRow(s.ID, s.Name, active, s.Entries)
			}
			tbl.RightAlign(0)
			fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.Format(timeutil.DateLayout)
}

func newScheduleCreateCmd(configPath *string) *cobra.Command {
	var name, from, until string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty schedule",
		Long:  "Creates a schedule. Without --from and --until the schedule is a draft previewed by weekday.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			fromT, err := optionalDate(from)
			if err != nil {
				return err
			}
			untilT, err := optionalDate(until)
			if err != nil {
				return err
			}
			if fromT != nil && untilT != nil && untilT.Before(*fromT) {
				return fmt.Errorf("--until is before --from")
			}

			ctx := context.Background()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			s, err := a.repo.CreateSchedule(ctx, name, fromT, untilT)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created schedule %d %q\n", s.ID, s.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "schedule name")
	cmd.Flags().StringVar(&from, "from", "", "first active day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "last active day (YYYY-MM-DD)")
	return cmd
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := timeutil.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func newFieldCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Manage fields",
	}
	cmd.AddCommand(newFieldListCmd(configPath))
	cmd.AddCommand(newFieldAddCmd(configPath))
	return cmd
}

func newFieldListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the field hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), *configPath)
			if err != nil {
				return err
			}
			tbl := uitable.New()
			tbl.Separator = "  "
			var add func(f *model.Field, indent string)
			add = func(f *model.Field, indent string) {
				tbl.AddRow(f.ID, indent+f.Name, f.Kind, f.Size, a.fields.ColumnCount(f.ID))
				for _, h := range f.Halves {
					add(h, indent+"  ")
				}
				if f.Kind == model.NodeHalf {
					for _, q := range f.Quarters {
						add(q, indent+"  ")
					}
				}
			}
			bold := color.New(color.Bold)
			tbl.AddRow(bold.Sprint("ID"), bold.Sprint("Name"), bold.Sprint("Kind"), bold.Sprint("Size"), bold.Sprint("Columns"))
			for _, r := range a.fields.Roots() {
				add(r, "")
			}
			fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
}

func newFieldAddCmd(configPath *string) *cobra.Command {
	var (
		name     string
		kind     string
		size     string
		parent   int64
		position int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a field, half or quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := model.FieldRecord{Name: name, Kind: model.NodeKind(kind), Size: model.SizeClass(size)}
			switch rec.Kind {
			case model.NodeFull:
				if parent != 0 {
					return fmt.Errorf("a full field has no parent")
				}
			case model.NodeHalf, model.NodeQuarter:
				if parent == 0 {
					return fmt.Errorf("--parent is required for a %s", kind)
				}
				rec.ParentID = model.ID(parent)
			default:
				return fmt.Errorf("unknown kind %q (want full, half or quarter)", kind)
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			if rec.ParentID != nil {
				p := a.fields.Get(parent)
				want := model.NodeFull
				if rec.Kind == model.NodeQuarter {
					want = model.NodeHalf
				}
				if p == nil || p.Kind != want {
					return fmt.Errorf("parent %d is not a %s field", parent, want)
				}
			}
			id, err := a.repo.SaveField(ctx, rec, position)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s field %d %q\n", rec.Kind, id, rec.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "field name")
	cmd.Flags().StringVar(&kind, "kind", string(model.NodeFull), "full, half or quarter")
	cmd.Flags().StringVar(&size, "size", "", "large, medium, small or mini")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent field id")
	cmd.Flags().IntVar(&position, "position", 0, "sort position among siblings")
	return cmd
}
