package structures

import (
	"net/http"
	"time"
)

type CliFlags struct {
	ConfigPath string
	DebugMode  bool
}

type Route struct {
	Url     string
	Method  string
	Handler http.Handler
}

type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required|uint|min:1"`
}

type StateConfig struct {
	// DSN selects the durable local cache: memory://, file:///path, sqlite://path, postgres://...
	DSN           string        `yaml:"dsn" validate:"required"`
	FlushInterval time.Duration `yaml:"flushInterval" validate:"required|min:1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type RemoteConfig struct {
	BaseURL        string        `yaml:"baseURL" validate:"required|fullUrl"`
	Token          string        `yaml:"token"`
	KeyringService string        `yaml:"keyringService"`
	GuardianID     string        `yaml:"guardianID" validate:"required"`
	StudentIDs     []string      `yaml:"studentIDs" validate:"required"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
}

type InboxConfig struct {
	Timezone        string        `yaml:"timezone"`
	ReminderStart   string        `yaml:"reminderStart" validate:"required"`
	ReminderEnd     string        `yaml:"reminderEnd" validate:"required"`
	RefreshThrottle time.Duration `yaml:"refreshThrottle"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	DisplayTimeTTL  time.Duration `yaml:"displayTimeTTL"`
}

type CounterConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	AppName   string
	Debug     bool
	Path      string
	WebServer Server        `yaml:"webServer"`
	State     StateConfig   `yaml:"state"`
	Logger    LoggerConfig  `yaml:"logger"`
	Remote    RemoteConfig  `yaml:"remote"`
	Inbox     InboxConfig   `yaml:"inbox"`
	Counter   CounterConfig `yaml:"counter"`
	Cache     CacheConfig   `yaml:"cache"`
	Metrics   MetricsConfig `yaml:"metrics"`
}
