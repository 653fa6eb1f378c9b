package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all agent configuration
type Config struct {
	ListenAddress string     `json:"listenAddress"`
	DatabasePath  string     `json:"databasePath"`
	Server        Server     `json:"server"`
	Capture       Capture    `json:"capture"`
	Security      Security   `json:"security"`
	CacheProxy    CacheProxy `json:"cacheProxy"`
}

// Server describes the remote TrueTrek server the agent delivers to
type Server struct {
	BaseURL              string `json:"baseUrl"`
	AccessToken          string `json:"accessToken"`
	ProbePath            string `json:"probePath"`
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds"`
	DeliveryTimeoutSecs  int    `json:"deliveryTimeoutSeconds"`
}

// Capture configuration for photo intake normalization
type Capture struct {
	MaxImageDimension int   `json:"maxImageDimension"`
	MaxFileSizeMB     int64 `json:"maxFileSizeMB"`
}

// Security configuration for the local control API
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// CacheProxy configuration for the background context
type CacheProxy struct {
	ListenAddress string   `json:"listenAddress"`
	CachePath     string   `json:"cachePath"`
	RedisAddr     string   `json:"redisAddr"`
	Generation    string   `json:"generation"`
	MediaHosts    []string `json:"mediaHosts"`
	PrecachePaths []string `json:"precachePaths"`
	AgentURL      string   `json:"agentUrl"`
}

// UseRedisCache returns true if the cache store should run on Redis
func (c *Config) UseRedisCache() bool {
	return c.CacheProxy.RedisAddr != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:7600",
		DatabasePath:  "agent.db",
		Server: Server{
			BaseURL:              "http://localhost:3000",
			ProbePath:            "/up",
			ProbeIntervalSeconds: 15,
			DeliveryTimeoutSecs:  60,
		},
		Capture: Capture{
			MaxImageDimension: 2048,
			MaxFileSizeMB:     25,
		},
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		CacheProxy: CacheProxy{
			ListenAddress: "127.0.0.1:7601",
			CachePath:     "cache.db",
			Generation:    "v1",
			MediaHosts:    []string{"cloudinary.com"},
			PrecachePaths: []string{"/", "/manifest.json", "/icon.png", "/icon-192.png"},
			AgentURL:      "ws://127.0.0.1:7600/ws",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("AGENT_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if baseURL := os.Getenv("SERVER_BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if token := os.Getenv("SERVER_ACCESS_TOKEN"); token != "" {
		cfg.Server.AccessToken = token
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	// Cache proxy configuration
	if addr := os.Getenv("CACHE_PROXY_ADDRESS"); addr != "" {
		cfg.CacheProxy.ListenAddress = addr
	}
	if cachePath := os.Getenv("CACHE_PATH"); cachePath != "" {
		cfg.CacheProxy.CachePath = cachePath
	}
	if redisAddr := os.Getenv("CACHE_REDIS_ADDR"); redisAddr != "" {
		cfg.CacheProxy.RedisAddr = redisAddr
	}
	if generation := os.Getenv("CACHE_GENERATION"); generation != "" {
		cfg.CacheProxy.Generation = generation
	}
	if agentURL := os.Getenv("AGENT_URL"); agentURL != "" {
		cfg.CacheProxy.AgentURL = agentURL
	}
	if interval := os.Getenv("PROBE_INTERVAL_SECONDS"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil && seconds > 0 {
			cfg.Server.ProbeIntervalSeconds = seconds
		}
	}

	return cfg, nil
}
