package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: ":9000"
log_level: loud
database:
  driver: mysql
  dsn: "u:p@tcp(db:3306)/club?parseTime=true"
grid:
  day_start: "07:30"
  day_end: "25:00"
  slot_minutes: 0
ics_sources:
  - id: league
    url: https://example.com/league.ics
    schedule_id: 4
basic_auth:
  username: coach
  password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "07:30", cfg.Grid.DayStart)
	assert.Equal(t, "23:00", cfg.Grid.DayEnd)
	assert.Equal(t, 15, cfg.Grid.SlotMinutes)
	assert.Equal(t, 2.0, cfg.Grid.Sensitivity)
	assert.Equal(t, "*/5 * * * *", cfg.FlushCron)
	require.Len(t, cfg.ICSSources, 1)
	assert.Equal(t, int64(4), cfg.ICSSources[0].ScheduleID)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "coach", cfg.BasicAuth.Username)

	slots, err := cfg.Slots()
	require.NoError(t, err)
	assert.Equal(t, 7*60+30, slots.DayStart)
	assert.Equal(t, 62, slots.Count())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalize_InvertedDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Grid.DayStart, cfg.Grid.DayEnd = "20:00", "09:00"
	cfg.Normalize()
	assert.Equal(t, "08:00", cfg.Grid.DayStart)
	assert.Equal(t, "23:00", cfg.Grid.DayEnd)
}

func TestSave_RejectsEmpty(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}
