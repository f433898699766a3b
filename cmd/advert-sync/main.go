// Package main is the entry point for the advert-sync CLI.
package main

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/engagement-analysis/advert-sync/cmd/advert-sync/app"
	"github.com/engagement-analysis/advert-sync/internal/config"
	"github.com/engagement-analysis/advert-sync/internal/logger"
)

// loggingFromEnv reads ADVERT_SYNC_LOG_LEVEL and ADVERT_SYNC_LOG_FORMAT.
// Falls back to LOG_LEVEL for the level.
func loggingFromEnv() (level string, jsonOutput bool) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	level = v.GetString("LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	return level, strings.EqualFold(v.GetString("LOG_FORMAT"), "json")
}

func main() {
	level, jsonOutput := loggingFromEnv()
	if err := logger.Initialize(level, jsonOutput); err != nil {
		_ = logger.Initialize("info", jsonOutput)
		logger.Warnf("Invalid log level %q, using info", level)
	}
	defer logger.Sync()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Sync()
		os.Exit(1)
	}
}
