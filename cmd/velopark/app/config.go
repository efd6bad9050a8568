package app

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autopeer-io/velopark/pkg/log"
)

const envPrefix = "VELOPARK"

// configLoader merges flags, VELOPARK_* environment variables and the optional
// configuration file, in that order of precedence.
type configLoader struct {
	path string
	v    *viper.Viper
}

func newConfigLoader() *configLoader {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &configLoader{v: v}
}

// load binds the parsed flags of cmd and decodes the merged tree into out.
func (l *configLoader) load(cmd *cobra.Command, out any) error {
	if err := l.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if l.path != "" && l.v.ConfigFileUsed() == "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", l.path, err)
		}
	}

	return l.v.Unmarshal(out)
}

// watchLogLevel applies log.level changes of the configuration file without
// a restart.
func (l *configLoader) watchLogLevel() {
	if l.path == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		level := l.v.GetString("log.level")
		if err := log.SetLevel(level); err != nil {
			log.Warn("Ignoring log level from config", "file", e.Name, "level", level, "error", err)
			return
		}
		log.Info("Log level changed", "file", e.Name, "level", level)
	})
	l.v.WatchConfig()
}
