// Package config loads runtime configuration from environment variables and
// flags. Env values become flag defaults, so flags always win.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "PRESENCE_RELAY_LISTEN_ADDR"
	envVarMode            = "PRESENCE_RELAY_MODE"
	envVarLogFormat       = "PRESENCE_RELAY_LOG_FORMAT"
	envVarLogLevel        = "PRESENCE_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "PRESENCE_RELAY_SHUTDOWN_TIMEOUT"

	// Signaling hardening knobs.
	envVarRateWindow            = "RATE_WINDOW"
	envVarMaxMessagesPerWindow  = "MAX_MESSAGES_PER_WINDOW"
	envVarHeartbeatInterval     = "HEARTBEAT_INTERVAL"
	envVarStaleAfter            = "STALE_AFTER"
	envVarMaxSignalMessageBytes = "MAX_SIGNAL_MESSAGE_BYTES"
	envVarSendQueueMessages     = "SEND_QUEUE_MESSAGES"

	// Room policy knobs.
	envVarRoomMemberCap     = "ROOM_MEMBER_CAP"
	envVarRoomDefaultQuorum = "ROOM_DEFAULT_QUORUM"

	// External TURN credential service (GET /turn pass-through).
	envVarTURNProxyURL     = "TURN_PROXY_URL"
	envVarTURNProxyTimeout = "TURN_PROXY_TIMEOUT"

	// coturn TURN REST (ephemeral) credentials for GET /ice.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr             = "127.0.0.1:8080"
	DefaultShutdown               = 15 * time.Second
	DefaultMode              Mode = ModeDev
	DefaultRateWindow             = 10 * time.Second
	DefaultMaxPerWindow           = 60
	DefaultHeartbeat              = 15 * time.Second
	DefaultStaleAfter             = 30 * time.Second
	DefaultRoomMemberCap          = 6
	DefaultRoomQuorum             = 2
	DefaultMaxSignalBytes   int64 = 64 * 1024
	DefaultSendQueue              = 32
	DefaultTURNProxyTimeout       = 5 * time.Second
	DefaultTURNRESTTTL            = time.Hour

	DefaultTURNRESTUsernamePrefix = "presence"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TURNRESTConfig covers self-hosted coturn deployments where the relay signs
// ephemeral credentials itself instead of proxying to an external service.
type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TURNRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// Per-connection inbound message rate limit.
	RateWindow   time.Duration
	MaxPerWindow int

	// Liveness: probe interval and the silence threshold for eviction.
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration

	MaxSignalMessageBytes int64
	SendQueueMessages     int

	RoomMemberCap     int
	RoomDefaultQuorum int

	// TURN credential pass-through (external service).
	TURNProxyURL     string
	TURNProxyTimeout time.Duration

	// TURN REST credentials minted locally (self-hosted coturn).
	TURNREST TURNRESTConfig

	// Static ICE server list advertised on GET /ice. TURN entries may omit
	// credentials when TURNREST is enabled; they are injected per request.
	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := envDurationOrDefault(lookup, envVarRateWindow, DefaultRateWindow)
	if err != nil {
		return Config{}, err
	}
	maxPerWindow, err := envIntOrDefault(lookup, envVarMaxMessagesPerWindow, DefaultMaxPerWindow)
	if err != nil {
		return Config{}, err
	}
	heartbeatInterval, err := envDurationOrDefault(lookup, envVarHeartbeatInterval, DefaultHeartbeat)
	if err != nil {
		return Config{}, err
	}
	staleAfter, err := envDurationOrDefault(lookup, envVarStaleAfter, DefaultStaleAfter)
	if err != nil {
		return Config{}, err
	}
	roomMemberCap, err := envIntOrDefault(lookup, envVarRoomMemberCap, DefaultRoomMemberCap)
	if err != nil {
		return Config{}, err
	}
	roomDefaultQuorum, err := envIntOrDefault(lookup, envVarRoomDefaultQuorum, DefaultRoomQuorum)
	if err != nil {
		return Config{}, err
	}
	sendQueueMessages, err := envIntOrDefault(lookup, envVarSendQueueMessages, DefaultSendQueue)
	if err != nil {
		return Config{}, err
	}

	maxSignalMessageBytes := DefaultMaxSignalBytes
	if raw, ok := lookup(envVarMaxSignalMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalMessageBytes, raw, err)
		}
		maxSignalMessageBytes = n
	}

	turnProxyURL := envOrDefault(lookup, envVarTURNProxyURL, "")
	turnProxyTimeout, err := envDurationOrDefault(lookup, envVarTURNProxyTimeout, DefaultTURNProxyTimeout)
	if err != nil {
		return Config{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	fs := flag.NewFlagSet("presence-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&rateWindow, "rate-window", rateWindow, "Inbound message rate limit window (env "+envVarRateWindow+")")
	fs.IntVar(&maxPerWindow, "max-messages-per-window", maxPerWindow, "Max inbound messages per connection per window, 0 disables (env "+envVarMaxMessagesPerWindow+")")
	fs.DurationVar(&heartbeatInterval, "heartbeat-interval", heartbeatInterval, "Liveness probe interval, must be < --stale-after (env "+envVarHeartbeatInterval+")")
	fs.DurationVar(&staleAfter, "stale-after", staleAfter, "Evict connections silent for longer than this (env "+envVarStaleAfter+")")
	fs.Int64Var(&maxSignalMessageBytes, "max-signal-message-bytes", maxSignalMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalMessageBytes+")")
	fs.IntVar(&sendQueueMessages, "send-queue-messages", sendQueueMessages, "Outbound queue depth per connection before eviction (env "+envVarSendQueueMessages+")")
	fs.IntVar(&roomMemberCap, "room-member-cap", roomMemberCap, "Maximum members per room (env "+envVarRoomMemberCap+")")
	fs.IntVar(&roomDefaultQuorum, "room-default-quorum", roomDefaultQuorum, "Default readiness quorum for new rooms (env "+envVarRoomDefaultQuorum+")")
	fs.StringVar(&turnProxyURL, "turn-proxy-url", turnProxyURL, "Upstream TURN credential endpoint for GET /turn (env "+envVarTURNProxyURL+")")
	fs.DurationVar(&turnProxyTimeout, "turn-proxy-timeout", turnProxyTimeout, "Upstream TURN credential request timeout (env "+envVarTURNProxyTimeout+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret (env "+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "TURN REST credential TTL (env "+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "Static TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "Static TURN credential (env "+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if rateWindow <= 0 {
		return Config{}, fmt.Errorf("%s/--rate-window must be > 0", envVarRateWindow)
	}
	if maxPerWindow < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-window must be >= 0 (0 = disabled)", envVarMaxMessagesPerWindow)
	}
	if heartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--heartbeat-interval must be > 0", envVarHeartbeatInterval)
	}
	if staleAfter <= 0 {
		return Config{}, fmt.Errorf("%s/--stale-after must be > 0", envVarStaleAfter)
	}
	if heartbeatInterval >= staleAfter {
		return Config{}, fmt.Errorf("%s must be < %s, otherwise healthy quiet connections get evicted between probes", envVarHeartbeatInterval, envVarStaleAfter)
	}
	if maxSignalMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signal-message-bytes must be > 0", envVarMaxSignalMessageBytes)
	}
	if sendQueueMessages <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-messages must be > 0", envVarSendQueueMessages)
	}
	if roomMemberCap < 2 {
		return Config{}, fmt.Errorf("%s/--room-member-cap must be >= 2", envVarRoomMemberCap)
	}
	if roomDefaultQuorum < 1 {
		return Config{}, fmt.Errorf("%s/--room-default-quorum must be >= 1", envVarRoomDefaultQuorum)
	}
	if roomDefaultQuorum > roomMemberCap {
		return Config{}, fmt.Errorf("%s must be <= %s, the room could never become ready", envVarRoomDefaultQuorum, envVarRoomMemberCap)
	}
	if turnRESTSharedSecret != "" && turnRESTTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be > 0", envVarTURNRESTTTL)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnRESTSharedSecret != "")
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:            listenAddr,
		Mode:                  mode,
		LogFormat:             logFormat,
		LogLevel:              level,
		ShutdownTimeout:       shutdownTimeout,
		RateWindow:            rateWindow,
		MaxPerWindow:          maxPerWindow,
		HeartbeatInterval:     heartbeatInterval,
		StaleAfter:            staleAfter,
		MaxSignalMessageBytes: maxSignalMessageBytes,
		SendQueueMessages:     sendQueueMessages,
		RoomMemberCap:         roomMemberCap,
		RoomDefaultQuorum:     roomDefaultQuorum,
		TURNProxyURL:          turnProxyURL,
		TURNProxyTimeout:      turnProxyTimeout,
		TURNREST: TURNRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
