package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 2.0, cfg.CA.ConnectionTimeout, 1e-9)
	assert.InDelta(t, 7200.0, cfg.CA.StaleAfter, 1e-9)
	assert.False(t, cfg.CA.AddStalePVs)
	assert.InDelta(t, 5.0, cfg.Loop.LoopTimer, 1e-9)
	assert.Equal(t, "mysql", cfg.DB.Driver)
}

func TestLoadFileAndColonElision(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channel_access:
  address_list: "130.246.39.152 130.246.39.153:5064"
  pv_prefix: "IN:"
  pv_domain: "HLM:"
database:
  host: dbhost
  name: helium
import_loop:
  loop_timer: 1.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "IN", cfg.CA.PVPrefix)
	assert.Equal(t, "HLM", cfg.CA.PVDomain)
	assert.Equal(t, []string{"130.246.39.152", "130.246.39.153:5064"}, cfg.CA.Addresses())
	assert.InDelta(t, 1.5, cfg.Loop.LoopTimer, 1e-9)
}

func TestNameTranslationRoundTrip(t *testing.T) {
	ca := CASettings{PVPrefix: "IN", PVDomain: "HLM"}

	full := ca.FullName("BANK1:HE_LEVEL")
	assert.Equal(t, "IN:HLM:BANK1:HE_LEVEL", full)
	assert.Equal(t, "BANK1:HE_LEVEL", ca.ShortName(full))

	// translation with no prefix/domain configured is the identity
	bare := CASettings{}
	assert.Equal(t, "X", bare.FullName("X"))
	assert.Equal(t, "X", bare.ShortName("X"))
}

func TestDSN(t *testing.T) {
	d := DBSettings{Driver: "mysql", Host: "db.example", Name: "helium", User: "u", Pass: "p"}
	assert.Equal(t, "u:p@tcp(db.example:3306)/helium?parseTime=true&charset=utf8mb4&loc=Local", d.DSN())

	d.Driver = "sqlite"
	d.Name = "file.db"
	assert.Equal(t, "file.db", d.DSN())
}
