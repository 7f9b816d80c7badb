package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	SupMCU   SupMCUConfig   `mapstructure:"supmcu"`
	Buses    []BusConfig    `mapstructure:"buses"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string               `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration        `mapstructure:"access_token_ttl"`
	MaxFailedLoginAttempts int                  `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration        `mapstructure:"account_lock_duration"`
	PasswordMemoryKiB      uint32               `mapstructure:"password_memory_kib"` // Argon2id
	PasswordIterations     uint32               `mapstructure:"password_iterations"`
	Users                  []UserConfig         `mapstructure:"users"`
	ServiceTokens          []ServiceTokenConfig `mapstructure:"service_tokens"`
}

// UserConfig is a statically configured operator account.
// PasswordHash is an encoded argon2id hash.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// ServiceTokenConfig holds the sha256 hex of a service token.
type ServiceTokenConfig struct {
	Name      string `mapstructure:"name"`
	TokenHash string `mapstructure:"token_hash"`
	Role      string `mapstructure:"role"`
}

type SupMCUConfig struct {
	ResponseDelay     time.Duration `mapstructure:"response_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StringReplyLength int           `mapstructure:"string_reply_length"`
	DefinitionPaths   []string      `mapstructure:"definition_paths"`
	DefinitionFormat  string        `mapstructure:"definition_format"`
}

// BusConfig describes one transport and the modules expected on it.
type BusConfig struct {
	Name          string         `mapstructure:"name"`
	Kind          string         `mapstructure:"kind"` // serial, i2c, sim
	Device        string         `mapstructure:"device"`
	BaudRate      int            `mapstructure:"baud_rate"`
	ReadTimeout   time.Duration  `mapstructure:"read_timeout"`
	ResponseDelay time.Duration  `mapstructure:"response_delay"`
	Modules       []ModuleConfig `mapstructure:"modules"`
}

type ModuleConfig struct {
	Address    uint16 `mapstructure:"address"`
	CmdName    string `mapstructure:"cmd_name"`
	Name       string `mapstructure:"name"`
	Poll       bool   `mapstructure:"poll"`
	Rediscover bool   `mapstructure:"rediscover"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("supmcu.response_delay", "100ms")
	v.SetDefault("supmcu.poll_interval", "1s")
	v.SetDefault("supmcu.string_reply_length", 128)
	v.SetDefault("supmcu.definition_paths", []string{"./definitions"})
	v.SetDefault("supmcu.definition_format", "json")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("log.level", "info")

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")
	v.SetDefault("auth.password_memory_kib", 128*1024)
	v.SetDefault("auth.password_iterations", 4)

	// Environment Variables mit Prefix SUPMCU_ (z.B. SUPMCU_SERVER_HTTP_PORT)
	v.SetEnvPrefix("SUPMCU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks bus and module entries for obvious mistakes.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, bus := range c.Buses {
		if bus.Name == "" {
			return fmt.Errorf("buses[%d]: name required", i)
		}
		if seen[bus.Name] {
			return fmt.Errorf("buses[%d]: duplicate bus name %q", i, bus.Name)
		}
		seen[bus.Name] = true

		switch bus.Kind {
		case "serial", "i2c":
			if bus.Device == "" {
				return fmt.Errorf("bus %s: device required for kind %s", bus.Name, bus.Kind)
			}
		case "sim":
		default:
			return fmt.Errorf("bus %s: unknown kind %q", bus.Name, bus.Kind)
		}

		addrs := make(map[uint16]bool)
		for j, m := range bus.Modules {
			if m.Address == 0 || m.Address > 0x7F {
				return fmt.Errorf("bus %s modules[%d]: address 0x%02X outside 7-bit range", bus.Name, j, m.Address)
			}
			if addrs[m.Address] {
				return fmt.Errorf("bus %s modules[%d]: duplicate address 0x%02X", bus.Name, j, m.Address)
			}
			addrs[m.Address] = true
		}
	}
	switch c.SupMCU.DefinitionFormat {
	case "json", "yaml":
	default:
		return fmt.Errorf("supmcu.definition_format must be json or yaml, got %q", c.SupMCU.DefinitionFormat)
	}
	return nil
}

// ResponseDelayFor returns the bus specific delay or the global default.
func (c *Config) ResponseDelayFor(bus BusConfig) time.Duration {
	if bus.ResponseDelay > 0 {
		return bus.ResponseDelay
	}
	return c.SupMCU.ResponseDelay
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback
		return devJWTSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
