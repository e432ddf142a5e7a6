package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix        = "NETWATCH_"
	ConfigFileEnv    = "NETWATCH_CONFIG_FILE"
	HardcodedVersion = "V0.3"
)

type Config struct {
	NodeID             string
	Hostname           string
	AgentVersion       string
	PollInterval       time.Duration
	RuntimeDir         string
	Interpreter        string
	HelperScript       string
	WorkerScript       string
	WorkerIfaceFlag    string
	ResolveRetries     int
	ResolveRetryDelay  time.Duration
	WorkerDrainTimeout time.Duration
	HTTPListenAddr     string
	UpstreamGRPCAddr   string
	UpstreamToken      string
	UpstreamMethod     string
	SubscriberBuffer   int
	QueryTimeout       time.Duration
	HealthInterval     time.Duration
	ShutdownTimeout    time.Duration
	WSWriteTimeout     time.Duration
	WSPingInterval     time.Duration
	AllowedOrigins     []string
	TLSEnabled         bool
	TLSSkipVerify      bool
	TLSCAPath          string
	TLSCertPath        string
	TLSKeyPath         string
	LogJSON            bool
	LogLevel           string
}

func Load() (Config, error) {
	src, err := newSource(os.Getenv(ConfigFileEnv))
	if err != nil {
		return Config{}, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:             src.str("NODE_ID", hostname),
		Hostname:           hostname,
		AgentVersion:       HardcodedVersion,
		PollInterval:       src.duration("POLL_INTERVAL", 5*time.Second),
		RuntimeDir:         src.str("RUNTIME_DIR", "."),
		Interpreter:        src.str("INTERPRETER", "python3"),
		HelperScript:       src.str("HELPER_SCRIPT", "helper.py"),
		WorkerScript:       src.str("WORKER_SCRIPT", "worker.py"),
		WorkerIfaceFlag:    src.str("WORKER_IFACE_FLAG", "--iface"),
		ResolveRetries:     src.integer("RESOLVE_RETRIES", 5),
		ResolveRetryDelay:  src.duration("RESOLVE_RETRY_DELAY", 500*time.Millisecond),
		WorkerDrainTimeout: src.duration("WORKER_DRAIN_TIMEOUT", 3*time.Second),
		HTTPListenAddr:     src.str("HTTP_ADDR", "127.0.0.1:7780"),
		UpstreamGRPCAddr:   src.str("UPSTREAM_GRPC_ADDR", ""),
		UpstreamToken:      src.str("UPSTREAM_TOKEN", ""),
		UpstreamMethod:     src.str("UPSTREAM_METHOD", "/netwatch.v1.NetworkService/StreamNetworkUpdates"),
		SubscriberBuffer:   src.integer("SUBSCRIBER_BUFFER", 1),
		QueryTimeout:       src.duration("QUERY_TIMEOUT", 2*time.Second),
		HealthInterval:     src.duration("HEALTH_INTERVAL", 30*time.Second),
		ShutdownTimeout:    src.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WSWriteTimeout:     src.duration("WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:     src.duration("WS_PING_INTERVAL", 20*time.Second),
		AllowedOrigins:     src.list("ALLOWED_ORIGINS"),
		TLSEnabled:         src.boolean("TLS_ENABLED", false),
		TLSSkipVerify:      src.boolean("TLS_SKIP_VERIFY", false),
		TLSCAPath:          src.str("TLS_CA_PATH", ""),
		TLSCertPath:        src.str("TLS_CERT_PATH", ""),
		TLSKeyPath:         src.str("TLS_KEY_PATH", ""),
		LogJSON:            src.boolean("LOG_JSON", false),
		LogLevel:           strings.ToLower(src.str("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("NETWATCH_NODE_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if c.PollInterval <= 0 {
		return errors.New("NETWATCH_POLL_INTERVAL must be > 0")
	}
	if strings.TrimSpace(c.Interpreter) == "" {
		return errors.New("NETWATCH_INTERPRETER is required")
	}
	if strings.TrimSpace(c.HelperScript) == "" || strings.TrimSpace(c.WorkerScript) == "" {
		return errors.New("NETWATCH_HELPER_SCRIPT and NETWATCH_WORKER_SCRIPT are required")
	}
	if c.ResolveRetries < 0 {
		return errors.New("NETWATCH_RESOLVE_RETRIES must be >= 0")
	}
	if c.ResolveRetryDelay <= 0 {
		return errors.New("NETWATCH_RESOLVE_RETRY_DELAY must be > 0")
	}
	if strings.TrimSpace(c.HTTPListenAddr) == "" {
		return errors.New("NETWATCH_HTTP_ADDR is required")
	}
	if c.QueryTimeout <= 0 || c.ShutdownTimeout <= 0 || c.HealthInterval <= 0 {
		return errors.New("query, health and shutdown timeouts must be > 0")
	}
	if c.SubscriberBuffer <= 0 {
		return errors.New("NETWATCH_SUBSCRIBER_BUFFER must be > 0")
	}
	if c.UpstreamGRPCAddr != "" && strings.TrimSpace(c.UpstreamMethod) == "" {
		return errors.New("NETWATCH_UPSTREAM_METHOD is required when an upstream is configured")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

// source resolves a key from the environment first, then the optional YAML
// file (lower-case key without prefix), then the fallback.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	path = strings.TrimSpace(path)
	if path == "" {
		return src, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return src, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range values {
		key := strings.ToLower(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, strings.TrimSpace(fmt.Sprint(item)))
			}
			src.file[key] = strings.Join(parts, ",")
		default:
			src.file[key] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
	return src, nil
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		return v
	}
	return s.file[strings.ToLower(key)]
}

func (s source) str(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) integer(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func (s source) boolean(key string, fallback bool) bool {
	v := strings.ToLower(s.lookup(key))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// list splits a comma-separated value, dropping empty items.
func (s source) list(key string) []string {
	var out []string
	for _, item := range strings.Split(s.lookup(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
