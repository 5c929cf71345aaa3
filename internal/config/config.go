// Package config implements this module's ambient configuration layer:
// viper-backed settings bound to CLI flags and VIRTNBDBACKUP_*-prefixed
// environment variables, wired through cobra.OnInitialize(InitConfig) and
// viper.AutomaticEnv.
package config

import (
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wal-g/tracelog"

	"github.com/virtnbdbackup/virtnbdbackup/internal/logging"
)

// Environment variable / config-file keys this tool's CLI surface exposes.
const (
	WorkerSetting            = "VIRTNBDBACKUP_WORKER"
	CompressionMethodSetting = "VIRTNBDBACKUP_COMPRESSION_METHOD"
	StrictSetting            = "VIRTNBDBACKUP_STRICT"
	SocketFileSetting        = "VIRTNBDBACKUP_SOCKETFILE"
	ScratchDirSetting        = "VIRTNBDBACKUP_SCRATCHDIR"
	NbdBlockSizeSetting      = "VIRTNBDBACKUP_NBD_BLOCKSIZE"
	NbdThreadsSetting        = "VIRTNBDBACKUP_NBD_THREADS"
	RateLimitSetting         = "VIRTNBDBACKUP_RATELIMIT"
	LogLevelSetting          = "VIRTNBDBACKUP_LOG_LEVEL"
	LogFormatSetting         = "VIRTNBDBACKUP_LOG_FORMAT"
)

// defaultConfigValues is applied to the viper instance before
// flags/env/config-file overrides are layered on top.
var defaultConfigValues = map[string]interface{}{
	WorkerSetting:            1,
	CompressionMethodSetting: "lz4",
	StrictSetting:            false,
	NbdBlockSizeSetting:      4096,
	NbdThreadsSetting:        1,
	RateLimitSetting:         0,
	LogLevelSetting:          "INFO",
	LogFormatSetting:         "LEGACY",
}

// CfgFile holds the --config flag's value, set by the owning cobra.Command
// before InitConfig runs.
var CfgFile string

// AddConfigFlag registers the shared --config persistent flag on cmd.
func AddConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&CfgFile, "config", "", "config file (default is $HOME/.virtnbdbackup.json)")
}

// InitConfig reads the config file (if any) and environment variables,
// applying defaults first so unset keys still resolve. Register it with
// cobra.OnInitialize in each tool's root command.
func InitConfig() {
	v := viper.GetViper()
	v.AutomaticEnv()
	setDefaultValues(v)
	readConfigFromFile(v, CfgFile)
}

func setDefaultValues(v *viper.Viper) {
	for setting, value := range defaultConfigValues {
		v.SetDefault(setting, value)
	}
}

func readConfigFromFile(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		usr, err := user.Current()
		if err != nil {
			tracelog.WarningLogger.Printf("config: could not resolve home directory: %v", err)
			return
		}
		v.AddConfigPath(usr.HomeDir)
		v.SetConfigName(".virtnbdbackup")
	}

	if err := v.ReadInConfig(); err != nil {
		if v.ConfigFileUsed() != "" {
			tracelog.WarningLogger.Printf("config: failed to parse config file %s: %v", v.ConfigFileUsed(), err)
		}
		return
	}
	tracelog.DebugLogger.Println("config: using config file:", v.ConfigFileUsed())
}

// BindFlag binds a single pflag to its matching viper setting key.
func BindFlag(key string, flag *pflag.Flag) error {
	return viper.BindPFlag(key, flag)
}

func GetInt(key string) int       { return viper.GetInt(key) }
func GetString(key string) string { return viper.GetString(key) }
func GetBool(key string) bool     { return viper.GetBool(key) }

// SetupLogging wires internal/logging's slog-based handler from the
// already-loaded VIRTNBDBACKUP_LOG_LEVEL/VIRTNBDBACKUP_LOG_FORMAT settings
// (environment or config file; no command registers a flag for them), so
// every command gets the same log setup without repeating it. Registered as a second
// cobra.OnInitialize step after InitConfig, once flags/env/config file have
// all been read.
func SetupLogging() {
	if err := logging.SetupLogger(os.Stderr, GetString(LogLevelSetting), GetString(LogFormatSetting)); err != nil {
		tracelog.WarningLogger.Printf("config: %v", err)
	}
}
