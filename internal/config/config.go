package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for oranet.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Pool    PoolDefaults  `yaml:"pool"`
	Backend BackendConfig `yaml:"backend"`
}

// ListenConfig defines the admin HTTP surface oranet exposes.
type ListenConfig struct {
	AdminPort int    `yaml:"admin_port"`
	AdminBind string `yaml:"admin_bind"`
	APIKey    string `yaml:"api_key"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
}

// PoolDefaults defines default connection pool settings.
type PoolDefaults struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// AuthMode selects how oranet authenticates to the listener.
type AuthMode string

const (
	AuthModePassword AuthMode = "password"
	AuthModeIAMToken AuthMode = "iam_token"
)

// TLSConfig controls transport encryption to the backend, including an
// optional Oracle wallet used in place of discrete cert/key files.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	WalletPath         string `yaml:"wallet_path,omitempty"`
	WalletPassword     string `yaml:"wallet_password,omitempty"`
	ServerCAFile       string `yaml:"server_ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// BackendConfig holds the connection parameters for the single Oracle
// listener oranet pools against.
type BackendConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	ServiceName string   `yaml:"service_name,omitempty"`
	SID         string   `yaml:"sid,omitempty"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password,omitempty"`
	AuthMode    AuthMode `yaml:"auth_mode"`

	// IAMTokenRSAKeyPEM signs the IAM-token authentication challenge
	// (§4.5) when AuthMode is "iam_token".
	IAMTokenRSAKeyPEM string `yaml:"iam_token_rsa_key_pem,omitempty"`
	IAMToken          string `yaml:"iam_token,omitempty"`

	// Purity selects the DRCP connection class pooling hint ("self",
	// "new", or left empty for the server default).
	Purity string `yaml:"purity,omitempty"`

	TLS TLSConfig `yaml:"tls"`

	// Overrides let the backend deviate from Pool defaults without a
	// second top-level pool block, mirroring the tenant override
	// pattern the reference config used for multi-tenant pools.
	MinConnections *int           `yaml:"min_connections,omitempty"`
	MaxConnections *int           `yaml:"max_connections,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
}

// ConnectDescriptor returns the TNS service identifier this backend
// connects with: the service name when set, falling back to the SID.
func (b BackendConfig) ConnectDescriptor() string {
	if b.ServiceName != "" {
		return b.ServiceName
	}
	return b.SID
}

// EffectiveMinConnections returns the backend's min connections or the default.
func (b BackendConfig) EffectiveMinConnections(defaults PoolDefaults) int {
	if b.MinConnections != nil {
		return *b.MinConnections
	}
	return defaults.MinConnections
}

// EffectiveMaxConnections returns the backend's max connections or the default.
func (b BackendConfig) EffectiveMaxConnections(defaults PoolDefaults) int {
	if b.MaxConnections != nil {
		return *b.MaxConnections
	}
	return defaults.MaxConnections
}

// EffectiveIdleTimeout returns the backend's idle timeout or the default.
func (b BackendConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if b.IdleTimeout != nil {
		return *b.IdleTimeout
	}
	return defaults.IdleTimeout
}

// EffectiveMaxLifetime returns the backend's max lifetime or the default.
func (b BackendConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if b.MaxLifetime != nil {
		return *b.MaxLifetime
	}
	return defaults.MaxLifetime
}

// EffectiveAcquireTimeout returns the backend's acquire timeout or the default.
func (b BackendConfig) EffectiveAcquireTimeout(defaults PoolDefaults) time.Duration {
	if b.AcquireTimeout != nil {
		return *b.AcquireTimeout
	}
	return defaults.AcquireTimeout
}

// Redacted returns a copy of the BackendConfig with secrets masked.
func (b BackendConfig) Redacted() BackendConfig {
	c := b
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	if c.IAMTokenRSAKeyPEM != "" {
		c.IAMTokenRSAKeyPEM = "***REDACTED***"
	}
	if c.IAMToken != "" {
		c.IAMToken = "***REDACTED***"
	}
	if c.TLS.WalletPassword != "" {
		c.TLS.WalletPassword = "***REDACTED***"
	}
	return c
}

// TLSEnabled returns true if both TLS cert and key paths are configured
// for the admin HTTP listener.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.AdminPort == 0 {
		cfg.Listen.AdminPort = 8080
	}
	if cfg.Listen.AdminBind == "" {
		cfg.Listen.AdminBind = "127.0.0.1"
	}
	if cfg.Backend.AuthMode == "" {
		cfg.Backend.AuthMode = AuthModePassword
	}
	if cfg.Pool.MinConnections == 0 {
		cfg.Pool.MinConnections = 2
	}
	if cfg.Pool.MaxConnections == 0 {
		cfg.Pool.MaxConnections = 20
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = 5 * time.Minute
	}
	if cfg.Pool.MaxLifetime == 0 {
		cfg.Pool.MaxLifetime = 30 * time.Minute
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 10 * time.Second
	}
	if cfg.Pool.DialTimeout == 0 {
		cfg.Pool.DialTimeout = 10 * time.Second
	}
	if cfg.Pool.MaxBackoff == 0 {
		cfg.Pool.MaxBackoff = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	b := cfg.Backend
	if b.Host == "" {
		return fmt.Errorf("backend: host is required")
	}
	if b.Port == 0 {
		return fmt.Errorf("backend: port is required")
	}
	if b.ServiceName == "" && b.SID == "" {
		return fmt.Errorf("backend: one of service_name or sid is required")
	}
	if b.Username == "" {
		return fmt.Errorf("backend: username is required")
	}
	switch b.AuthMode {
	case "", AuthModePassword:
		if b.Password == "" {
			return fmt.Errorf("backend: password is required for auth_mode %q", AuthModePassword)
		}
	case AuthModeIAMToken:
		if b.IAMTokenRSAKeyPEM == "" || b.IAMToken == "" {
			return fmt.Errorf("backend: iam_token_rsa_key_pem and iam_token are required for auth_mode %q", AuthModeIAMToken)
		}
	default:
		return fmt.Errorf("backend: unsupported auth_mode %q", b.AuthMode)
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
