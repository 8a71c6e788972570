package cli

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pressgate/pressgate/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// PRESSGATE_STORE_DATA_DIR env var / config, or ~/.pressgate as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("store.data_dir"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return home + "/.pressgate"
}

// openStore opens the configured store. The admin commands share it with the
// server so an offline `pressgate key create` is visible to a running
// instance immediately.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")
	if (driver == "" || driver == "sqlite") && dsn == "" {
		return store.OpenDir(resolveDataDir())
	}
	return store.Open(driver, dsn)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
