package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	HTTP    HTTPConfig    `json:"http"`
	Redis   RedisConfig   `json:"redis"`
	Minio   MinioConfig   `json:"minio"`
	Device  DeviceConfig  `json:"device"`
	Session SessionConfig `json:"session"`
}

// HTTPConfig configures the REST surface.
type HTTPConfig struct {
	Listen string `json:"listen"`
	// Token enables bearer authentication when non-empty.
	Token string `json:"token"`
}

// RedisConfig configures the key/value store.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// MinioConfig configures blob storage for outbound media.
type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// DeviceConfig configures the transport device store.
type DeviceConfig struct {
	StorePath string `json:"store_path"`
	Name      string `json:"name"`
}

// SessionConfig holds the session lifecycle timings. Durations are given in
// seconds in JSON.
type SessionConfig struct {
	QRTTLSecs          int `json:"qr_ttl_secs"`
	StatusTTLSecs      int `json:"status_ttl_secs"`
	CredsTTLSecs       int `json:"creds_ttl_secs"`
	KeysTTLSecs        int `json:"keys_ttl_secs"`
	PairingWaitSecs    int `json:"pairing_wait_secs"`
	ConcurrentWaitSecs int `json:"concurrent_wait_secs"`
	LoginTimeoutSecs   int `json:"login_timeout_secs"`
	ReconnectDelaySecs int `json:"reconnect_delay_secs"`
	StatusRefreshSecs  int `json:"status_refresh_secs"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".wa-gateway", "store")

	return &Config{
		LogLevel:  "INFO",
		LogFormat: "console",
		HTTP: HTTPConfig{
			Listen: ":3001",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "whatsapp:",
		},
		Minio: MinioConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "private",
			Region:    "us-east-1",
		},
		Device: DeviceConfig{
			StorePath: defaultStore,
			Name:      "WA Gateway",
		},
		Session: SessionConfig{
			QRTTLSecs:          300,
			StatusTTLSecs:      3600,
			CredsTTLSecs:       30 * 24 * 3600,
			KeysTTLSecs:        7 * 24 * 3600,
			PairingWaitSecs:    10,
			ConcurrentWaitSecs: 2,
			LoginTimeoutSecs:   180,
			ReconnectDelaySecs: 3,
			StatusRefreshSecs:  600,
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads configuration from environment variables with defaults.
// If configPath is provided, loads from file first.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		var err error
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	// Environment variable overrides
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Listen = ":" + v
	}
	if v := os.Getenv("GATEWAY_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v, ok := os.LookupEnv("GATEWAY_TOKEN"); ok {
		cfg.HTTP.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		cfg.Redis.KeyPrefix = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
		if port := os.Getenv("MINIO_PORT"); port != "" {
			cfg.Minio.Endpoint = v + ":" + port
		}
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.Minio.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = v
	}
	if v := os.Getenv("MINIO_REGION"); v != "" {
		cfg.Minio.Region = v
	}
	if v := os.Getenv("GATEWAY_STORE_PATH"); v != "" {
		cfg.Device.StorePath = v
	}
	if v := os.Getenv("GATEWAY_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("GATEWAY_LOGIN_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Session.LoginTimeoutSecs = secs
		}
	}
	if v := os.Getenv("GATEWAY_RECONNECT_DELAY"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Session.ReconnectDelaySecs = secs
		}
	}

	return cfg, nil
}

// EnsureStorePath creates the device store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.Device.StorePath, 0755)
}

// DevicePath returns the sqlite file backing the transport device store.
func (c *Config) DevicePath() string {
	return filepath.Join(c.Device.StorePath, "devices.db")
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// QRTTL is how long a pairing payload stays readable.
func (s SessionConfig) QRTTL() time.Duration { return secs(s.QRTTLSecs) }

// StatusTTL is the expiry applied to persisted status values.
func (s SessionConfig) StatusTTL() time.Duration { return secs(s.StatusTTLSecs) }

// CredsTTL is the expiry of the credential blob.
func (s SessionConfig) CredsTTL() time.Duration { return secs(s.CredsTTLSecs) }

// KeysTTL is the expiry of individual key entries.
func (s SessionConfig) KeysTTL() time.Duration { return secs(s.KeysTTLSecs) }

// PairingWait bounds how long CreateSession waits for a QR or open.
func (s SessionConfig) PairingWait() time.Duration { return secs(s.PairingWaitSecs) }

// ConcurrentWait bounds how long a second CreateSession waits on one in flight.
func (s SessionConfig) ConcurrentWait() time.Duration { return secs(s.ConcurrentWaitSecs) }

// LoginTimeout bounds the whole pairing flow.
func (s SessionConfig) LoginTimeout() time.Duration { return secs(s.LoginTimeoutSecs) }

// ReconnectDelay is the fixed wait before an automatic reconnect.
func (s SessionConfig) ReconnectDelay() time.Duration { return secs(s.ReconnectDelaySecs) }

// StatusRefresh is how often live sessions re-persist their connected status.
func (s SessionConfig) StatusRefresh() time.Duration { return secs(s.StatusRefreshSecs) }
