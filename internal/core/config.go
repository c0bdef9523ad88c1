package core

import (
	"time"
)

// Configuration defaults.
const (
	DefaultServerHost           = "0.0.0.0"
	DefaultServerPort           = 8080
	DefaultAPIBaseURL           = "https://api.spotify.com/v1"
	DefaultStorePath            = "./spinsync.db"
	DefaultLanguage             = "en"
	DefaultConfirmDelay         = 1200 * time.Millisecond
	DefaultSettleDelay          = 1500 * time.Millisecond
	DefaultDevicePollInterval   = 7 * time.Second
	DefaultPlaybackPollInterval = 5 * time.Second
	DefaultRetryAttempts        = 3
	DefaultRetryBackoff         = time.Second
	DefaultEscalationThreshold  = 3
	DefaultHealthCheckTimeout   = 5 * time.Second
	DefaultHandoffTTL           = 5 * time.Minute
)

type Config struct {
	Spotify  SpotifyConfig
	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Playback PlaybackConfig
	App      AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIBaseURL   string
	// BackendURL is where the CLI exchanges authorization codes; empty exchanges directly.
	BackendURL        string
	RequestsPerSecond float64
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HandoffTTL   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Path string
}

type PlaybackConfig struct {
	ConfirmDelay        time.Duration
	SettleDelay         time.Duration
	DevicePollInterval  time.Duration
	PollInterval        time.Duration
	RetryAttempts       int
	RetryBackoff        time.Duration
	EscalationThreshold int
	FallbackDeviceType  DeviceType
}

type AppConfig struct {
	Language           string
	HealthCheckTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
			APIBaseURL:  DefaultAPIBaseURL,
		},
		Server: ServerConfig{
			Host:         DefaultServerHost,
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			HandoffTTL:   DefaultHandoffTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Playback: PlaybackConfig{
			ConfirmDelay:        DefaultConfirmDelay,
			SettleDelay:         DefaultSettleDelay,
			DevicePollInterval:  DefaultDevicePollInterval,
			PollInterval:        DefaultPlaybackPollInterval,
			RetryAttempts:       DefaultRetryAttempts,
			RetryBackoff:        DefaultRetryBackoff,
			EscalationThreshold: DefaultEscalationThreshold,
			FallbackDeviceType:  DeviceTypeComputer,
		},
		App: AppConfig{
			Language:           DefaultLanguage,
			HealthCheckTimeout: DefaultHealthCheckTimeout,
		},
	}
}
