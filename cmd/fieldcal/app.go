package main

import (
	"context"
	"fmt"

	"fieldcal/internal/config"
	"fieldcal/internal/db"
	"fieldcal/internal/field"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/store"
)

// app bundles the collaborators every subcommand needs.
type app struct {
	cfg    *config.Config
	repo   *db.Repo
	store  *store.Store
	fields *field.Hierarchy
}

// openApp loads the config, connects and migrates the database and loads
// fields and schedules into a fresh store backed by the repository.
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	gormDB, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	repo := db.NewRepo(gormDB)

	a := &app{cfg: cfg, repo: repo, store: store.New(repo)}
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	appLog.Debug("app opened",
		"driver", cfg.Database.Driver,
		"fields", len(a.fields.Roots()),
		"schedules", len(a.store.Summaries()),
	)
	return a, nil
}

func (a *app) reload(ctx context.Context) error {
	recs, err := a.repo.LoadFields(ctx)
	if err != nil {
		return err
	}
	a.fields = field.Build(recs)

	schedules, err := a.repo.LoadSchedules(ctx)
	if err != nil {
		return err
	}
	a.store.Load(schedules)
	return nil
}

// scheduleID resolves the --schedule flag, falling back to the store's
// selected schedule.
func (a *app) scheduleID(flag int64) (int64, error) {
	if flag > 0 {
		if a.store.Schedule(flag) == nil {
			return 0, fmt.Errorf("schedule %d not found", flag)
		}
		return flag, nil
	}
	if sel := a.store.Selected(); sel != nil {
		return sel.ID, nil
	}
	return 0, fmt.Errorf("no schedules yet; create one with `fieldcal schedule create`")
}
