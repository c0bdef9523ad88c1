// Package main provides the spinsync CLI and server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"spinsync/internal/core"
	"spinsync/internal/devices"
	"spinsync/internal/escalation"
	httpserver "spinsync/internal/http"
	"spinsync/internal/i18n"
	"spinsync/internal/metrics"
	"spinsync/internal/playback"
	"spinsync/internal/session"
	"spinsync/internal/spotify"
	"spinsync/internal/store"
	"spinsync/internal/transfer"
)

const envPrefix = "SPINSYNC"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spinsync",
	Short: "spinsync - Spotify playback device control",
	Long: `spinsync keeps track of the Spotify Connect devices of one account, moves playback between them
and serves a small control API plus the OAuth token-exchange backend.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "OAuth redirect URL (default derived from server host and port)")
	flags.String("spotify-api-base-url", core.DefaultAPIBaseURL, "Spotify Web API base URL")
	flags.Float64("spotify-requests-per-second", 0, "Pace Spotify API requests (0 disables pacing)")
	flags.String("backend-url", "", "Token-exchange backend used by CLI logins (empty exchanges directly)")
	flags.String("server-host", core.DefaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Int("handoff-ttl-mins", int(core.DefaultHandoffTTL/time.Minute), "Lifetime of a login hand-off in minutes")
	flags.String("store-path", core.DefaultStorePath, "SQLite session store path")
	flags.Int("confirm-delay-ms", int(core.DefaultConfirmDelay/time.Millisecond), "Delay before confirming a playback action")
	flags.Int("settle-delay-ms", int(core.DefaultSettleDelay/time.Millisecond), "Wait after a soft transfer before re-checking the device")
	flags.Int("device-poll-interval-secs", int(core.DefaultDevicePollInterval/time.Second), "Device watcher interval in seconds")
	flags.Int("playback-poll-interval-secs", int(core.DefaultPlaybackPollInterval/time.Second), "Playback state poll interval in seconds")
	flags.Int("retry-attempts", core.DefaultRetryAttempts, "Attempts for retryable remote failures")
	flags.Int("retry-backoff-ms", int(core.DefaultRetryBackoff/time.Millisecond), "Linear retry backoff step in milliseconds")
	flags.Int("escalation-threshold", core.DefaultEscalationThreshold, "Consecutive restriction errors before offering a device switch")
	flags.String("fallback-device-type", string(core.DeviceTypeComputer), "Device type offered by the device switch prompt")
	flags.Int("health-check-timeout-secs", int(core.DefaultHealthCheckTimeout/time.Second), "Backend health check timeout in seconds")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Message language (%s)", supportedLangs))
	rootCmd.Flags().Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("generate-env-example", rootCmd.Flags().Lookup("generate-env-example")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	addCommands(rootCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureStore(cfg)
	configurePlayback(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	if ttl := viper.GetInt("handoff-ttl-mins"); ttl > 0 {
		cfg.Server.HandoffTTL = time.Duration(ttl) * time.Minute
	}
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.APIBaseURL = viper.GetString("spotify-api-base-url")
	cfg.Spotify.BackendURL = viper.GetString("backend-url")
	cfg.Spotify.RequestsPerSecond = viper.GetFloat64("spotify-requests-per-second")

	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == core.DefaultServerHost {
			serverHost = "127.0.0.1" // Use localhost for OAuth callback
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/callback", serverHost, cfg.Server.Port)
	}
}

func configureStore(cfg *core.Config) {
	cfg.Store.Path = viper.GetString("store-path")
	if cfg.Store.Path == "" {
		cfg.Store.Path = core.DefaultStorePath
	}
}

func configurePlayback(cfg *core.Config) {
	cfg.Playback.ConfirmDelay = positiveDuration("confirm-delay-ms", time.Millisecond, core.DefaultConfirmDelay)
	cfg.Playback.SettleDelay = positiveDuration("settle-delay-ms", time.Millisecond, core.DefaultSettleDelay)
	cfg.Playback.DevicePollInterval = positiveDuration("device-poll-interval-secs", time.Second, core.DefaultDevicePollInterval)
	cfg.Playback.PollInterval = positiveDuration("playback-poll-interval-secs", time.Second, core.DefaultPlaybackPollInterval)
	cfg.Playback.RetryBackoff = positiveDuration("retry-backoff-ms", time.Millisecond, core.DefaultRetryBackoff)

	cfg.Playback.RetryAttempts = viper.GetInt("retry-attempts")
	if cfg.Playback.RetryAttempts <= 0 {
		cfg.Playback.RetryAttempts = core.DefaultRetryAttempts
	}
	cfg.Playback.EscalationThreshold = viper.GetInt("escalation-threshold")
	if cfg.Playback.EscalationThreshold <= 0 {
		cfg.Playback.EscalationThreshold = core.DefaultEscalationThreshold
	}
	cfg.Playback.FallbackDeviceType = core.ParseDeviceType(viper.GetString("fallback-device-type"))
}

func configureApp(cfg *core.Config) {
	cfg.App.HealthCheckTimeout = positiveDuration("health-check-timeout-secs", time.Second, core.DefaultHealthCheckTimeout)

	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}

	supportedLanguages := i18n.GetSupportedLanguages()
	if !slices.Contains(supportedLanguages, cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(supportedLanguages, ", "))
		cfg.App.Language = i18n.DefaultLanguage
	}
}

// positiveDuration reads an integer flag in unit, falling back when it is not positive.
func positiveDuration(key string, unit, fallback time.Duration) time.Duration {
	value := viper.GetInt(key)
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * unit
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "text" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}
	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required")
	}
	return nil
}

// services is the composition root: every component is built once here and injected.
type services struct {
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      *session.Store
	sessions   *session.Manager
	auth       *spotify.Authenticator
	backend    *session.BackendClient
	spotify    *spotify.Client
	directory  *devices.Directory
	transfer   *transfer.Orchestrator
	reconciler *playback.Reconciler
	escalation *escalation.Policy
	controller *playback.Controller
}

func initializeServices(ctx context.Context) (*services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	sessionStore, err := session.OpenStore(ctx, config.Store.Path, logger.Named("store"))
	if err != nil {
		return nil, err
	}

	auth := spotify.NewAuthenticator(&config.Spotify)
	sessions := session.NewManager(sessionStore, auth, logger.Named("session"))
	if _, err := sessions.Load(ctx); err != nil {
		sessionStore.Close()
		return nil, err
	}

	client := spotify.NewClient(&config.Spotify, sessions, logger.Named("spotify"),
		spotify.WithMetrics(m),
		spotify.WithTrackCache(store.NewTrackCache(store.DefaultTrackCacheSize, store.DefaultBloomFalsePositiveRate)))

	directory := devices.NewDirectory(client, &config.Playback, logger.Named("devices"), m)
	orchestrator := transfer.NewOrchestrator(client, directory, &config.Playback, logger.Named("transfer"), m)
	reconciler := playback.NewReconciler(client, &config.Playback, logger.Named("playback"), m)
	policy := escalation.NewPolicy(orchestrator, directory, &config.Playback, logger.Named("escalation"), m)
	controller := playback.NewController(client, reconciler, policy, logger.Named("playback"))

	backendURL := config.Spotify.BackendURL
	if backendURL == "" {
		backendURL = fmt.Sprintf("http://127.0.0.1:%d", config.Server.Port)
	}

	return &services{
		registry:   registry,
		metrics:    m,
		store:      sessionStore,
		sessions:   sessions,
		auth:       auth,
		backend:    session.NewBackendClient(backendURL, config.App.HealthCheckTimeout, logger.Named("backend")),
		spotify:    client,
		directory:  directory,
		transfer:   orchestrator,
		reconciler: reconciler,
		escalation: policy,
		controller: controller,
	}, nil
}

func (s *services) Close() {
	if err := s.store.Close(); err != nil {
		logger.Debug("Failed to close session store", zap.Error(err))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting spinsync",
		zap.String("addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.String("redirectURL", config.Spotify.RedirectURL))

	if err := validateSpotifyConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.Close()

	return runServices(ctx, svcs)
}

func runServices(ctx context.Context, svcs *services) error {
	watcher := devices.NewWatcher(svcs.directory, config.Playback.DevicePollInterval, logger.Named("watcher"), svcs.metrics,
		func(list []core.Device, err error) {
			if err == nil {
				logger.Debug("Device list updated", zap.Int("count", len(list)))
			}
		})

	svcs.escalation.OnPrompt(func(prompt escalation.Prompt) {
		logger.Warn("Device switch suggested",
			zap.String("promptID", prompt.ID),
			zap.Int("count", prompt.Count))
	})

	server := httpserver.NewServer(&config.Server, httpserver.Services{
		Auth:        svcs.auth,
		Sessions:    svcs.sessions,
		Store:       svcs.store,
		Catalog:     svcs.spotify,
		Directory:   svcs.directory,
		Watcher:     watcher,
		Transfer:    svcs.transfer,
		Playback:    svcs.controller,
		State:       svcs.reconciler,
		Escalation:  svcs.escalation,
		Gatherer:    svcs.registry,
		RedirectURL: config.Spotify.RedirectURL,
	}, svcs.metrics, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.reconciler.Run(gCtx, config.Playback.PollInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("spinsync stopped with error", zap.Error(err))
		return err
	}

	logger.Info("spinsync stopped gracefully")
	return nil
}
