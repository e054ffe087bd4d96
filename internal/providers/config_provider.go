package providers

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"inboxd/internal/structures"
)

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("state.flushInterval", 30*time.Second)
	v.SetDefault("inbox.timezone", "Local")
	v.SetDefault("inbox.reminderStart", "12:30")
	v.SetDefault("inbox.reminderEnd", "21:00")
	v.SetDefault("inbox.refreshThrottle", 3*time.Second)
	v.SetDefault("inbox.refreshInterval", 5*time.Minute)
	v.SetDefault("inbox.displayTimeTTL", time.Minute)
	v.SetDefault("counter.pollInterval", 5*time.Second)
	v.SetDefault("remote.requestTimeout", 10*time.Second)
	v.SetDefault("remote.reconnectDelay", 2*time.Second)
}

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	v := viper.New()
	filename := filepath.Base(flags.ConfigPath)
	v.AddConfigPath(filepath.Dir(flags.ConfigPath))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")
	setConfigDefaults(v)

	v.BindEnv("logger.level", "INBOXD_LOG_LEVEL")
	v.BindEnv("state.dsn", "INBOXD_STATE_DSN")
	v.BindEnv("remote.baseURL", "INBOXD_REMOTE_URL")
	v.BindEnv("remote.token", "INBOXD_REMOTE_TOKEN")
	v.BindEnv("cache.enabled", "INBOXD_CACHE_ENABLED")
	v.BindEnv("cache.size", "INBOXD_CACHE_SIZE")
	v.BindEnv("cache.ttl", "INBOXD_CACHE_TTL")

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "GuardianInboxDaemon"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
