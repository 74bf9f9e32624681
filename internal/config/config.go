// Package config provides configuration management for the FlowKit editor.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort       = 8000
	DefaultLogLevel   = "info"
	DefaultDataDir    = ".flowkit"
	DefaultBackend    = BackendHTTP
	DefaultBackendURL = "http://127.0.0.1:8001"
	DefaultSessionTTL = 7200 // seconds

	// Backend modes
	BackendHTTP  = "http"
	BackendLocal = "local"
	BackendStub  = "stub"

	// Environment variable names
	EnvPort         = "FLOWKIT_PORT"
	EnvLogLevel     = "FLOWKIT_LOG_LEVEL"
	EnvDataDir      = "FLOWKIT_DATA_DIR"
	EnvBackend      = "FLOWKIT_BACKEND"
	EnvBackendURL   = "FLOWKIT_BACKEND_URL"
	EnvBackendToken = "FLOWKIT_BACKEND_TOKEN"
	EnvRedisAddr    = "FLOWKIT_REDIS_ADDR"
	EnvSessionTTL   = "FLOWKIT_SESSION_TTL"
	EnvHeadless     = "FLOWKIT_HEADLESS"

	// Local pipeline environment variable names
	EnvPipelinesPython = "FLOWKIT_PIPELINES_PYTHON"
	EnvPipelinesModule = "FLOWKIT_PIPELINES_MODULE"

	// Database filename
	DBFilename = "flowkit.db"

	// Pipeline defaults
	DefaultPipelinesModule         = "flowkit_pipelines"
	DefaultPipelinesTimeoutAnalyze = 3600 // 1 hour
	DefaultPipelinesTimeoutRender  = 1800 // 30 minutes
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	ResultsDir() string
	ExportDir() string
	Backend() string
	BackendURL() string
	BackendToken() string
	RedisAddr() string
	SessionTTL() time.Duration
	Headless() bool
	PipelinesPython() string
	PipelinesModule() string
	PipelinesTimeoutAnalyze() time.Duration
	PipelinesTimeoutRender() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port         int
	logLevel     string
	dataDir      string
	backend      string
	backendURL   string
	backendToken string
	redisAddr    string
	sessionTTL   time.Duration
	headless     bool

	pipelinesPython string
	pipelinesModule string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:       DefaultPort,
		logLevel:   DefaultLogLevel,
		dataDir:    defaultDataDir(),
		backend:    DefaultBackend,
		backendURL: DefaultBackendURL,
		sessionTTL: DefaultSessionTTL * time.Second,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if b := os.Getenv(EnvBackend); b != "" {
		b = strings.ToLower(b)
		switch b {
		case BackendHTTP, BackendLocal, BackendStub:
			cfg.backend = b
		default:
			return nil, fmt.Errorf("invalid %s: %q (want http, local or stub)", EnvBackend, b)
		}
	}

	if u := os.Getenv(EnvBackendURL); u != "" {
		cfg.backendURL = strings.TrimRight(u, "/")
	}
	cfg.backendToken = os.Getenv(EnvBackendToken)
	cfg.redisAddr = os.Getenv(EnvRedisAddr)

	if ttl := os.Getenv(EnvSessionTTL); ttl != "" {
		secs, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvSessionTTL, err)
		}
		if secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvSessionTTL)
		}
		cfg.sessionTTL = time.Duration(secs) * time.Second
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.pipelinesPython = os.Getenv(EnvPipelinesPython)
	cfg.pipelinesModule = os.Getenv(EnvPipelinesModule)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir holds the uploaded source videos of the current upload set.
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

// ResultsDir holds rendered outputs.
func (c *EnvConfig) ResultsDir() string {
	return filepath.Join(c.dataDir, "results")
}

// ExportDir receives EDL exports that name no output directory.
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// Backend returns the analysis/render backend mode (http, local, stub)
func (c *EnvConfig) Backend() string {
	return c.backend
}

func (c *EnvConfig) BackendURL() string {
	return c.backendURL
}

func (c *EnvConfig) BackendToken() string {
	return c.backendToken
}

// RedisAddr returns the session snapshot store address; empty keeps snapshots in memory.
func (c *EnvConfig) RedisAddr() string {
	return c.redisAddr
}

// SessionTTL is how long an idle editing session survives.
func (c *EnvConfig) SessionTTL() time.Duration {
	return c.sessionTTL
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

func (c *EnvConfig) PipelinesTimeoutAnalyze() time.Duration {
	return time.Duration(DefaultPipelinesTimeoutAnalyze) * time.Second
}

func (c *EnvConfig) PipelinesTimeoutRender() time.Duration {
	return time.Duration(DefaultPipelinesTimeoutRender) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
