// Package config loads the loopline CLI configuration through viper.
package config

import (
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/loopline-audio/loopline/internal/logging"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("samplerate", 48000)
	viper.SetDefault("channels", 2)
	viper.SetDefault("bufferframes", 512)
	viper.SetDefault("ringmultiplier", 20)
	viper.SetDefault("slicecount", 16)
	viper.SetDefault("inputdevice", -1)
	viper.SetDefault("outputdevice", -1)
	viper.SetDefault("recordinput", "")
	viper.SetDefault("recordplayer", "")
	viper.SetDefault("recordoutput", "")
}

// LoadConfig seeds the defaults and overlays the config file at
// configFilePath, if one exists.
func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}

// ConfigureLogger applies the configured log level and file to the default
// slog logger. Returns the opened log file pointer, if any, so it may be
// closed on shutdown.
func ConfigureLogger() *os.File {
	logFilePointer, err := logging.Configure(viper.GetString("loglevel"), viper.GetString("logfile"))
	if err != nil {
		slog.Error("error while configuring logger", "err", err)
		panic(err)
	}
	return logFilePointer
}
