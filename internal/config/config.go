package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Chat      ChatConfig      `yaml:"chat" envconfig:"CHAT"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Mongo     MongoConfig     `yaml:"mongo" envconfig:"MONGO"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"4000" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:3001,*.vercel.app"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains HTTP rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/chat-gateway.log"`
}

// WebSocketConfig contains WebSocket transport configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024" validate:"gt=0"`
	SendBufferSize  int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE" default:"256" validate:"gt=0"`
	MaxFrameBytes   int64         `yaml:"max_frame_bytes" envconfig:"MAX_FRAME_BYTES" default:"1048576" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" default:"30s" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s" validate:"gt=0"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" default:"10s" validate:"gt=0"`
}

// ChatConfig contains chat gateway behaviour
type ChatConfig struct {
	HistoryCapacity      int     `yaml:"history_capacity" envconfig:"HISTORY_CAPACITY" default:"100" validate:"gt=0"`
	MaxMessageLength     int     `yaml:"max_message_length" envconfig:"MAX_MESSAGE_LENGTH" default:"2000" validate:"gt=0"`
	EchoToSender         bool    `yaml:"echo_to_sender" envconfig:"ECHO_TO_SENDER" default:"true"`
	MalformedFramePolicy string  `yaml:"malformed_frame_policy" envconfig:"MALFORMED_FRAME_POLICY" default:"reply" validate:"oneof=reply drop"`
	FrameRate            float64 `yaml:"frame_rate" envconfig:"FRAME_RATE" default:"0" validate:"gte=0"`
	FrameBurst           int     `yaml:"frame_burst" envconfig:"FRAME_BURST" default:"10" validate:"gte=0"`
}

// AuthConfig contains credential verification settings
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTAlgorithm string `yaml:"jwt_algorithm" envconfig:"JWT_ALGORITHM" default:"HS256" validate:"oneof=HS256 HS384 HS512"`
}

// MongoConfig contains the user directory connection settings.
// An empty URI disables the directory lookup.
type MongoConfig struct {
	URI             string        `yaml:"uri" envconfig:"URI"`
	Database        string        `yaml:"database" envconfig:"DATABASE" default:"pricewatch"`
	UsersCollection string        `yaml:"users_collection" envconfig:"USERS_COLLECTION" default:"users"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"5s" validate:"gt=0"`
	MaxPoolSize     uint64        `yaml:"max_pool_size" envconfig:"MAX_POOL_SIZE" default:"20"`
}

// RedisConfig contains the user profile cache settings.
// An empty address disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr" envconfig:"ADDR"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB" default:"0" validate:"gte=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"5m" validate:"gt=0"`
}

// TelemetryConfig contains OpenTelemetry exporter settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0" validate:"gte=0,lte=1"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom loads configuration from environment variables and the given YAML
// file. An empty path skips the file.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileConfig, cfg)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config. A value explicitly set in
// the environment wins; otherwise a value present in the file replaces the
// envconfig default.
func mergeConfigs(fileConfig, envConfig Config) Config {
	set := func(key string) bool {
		_, ok := os.LookupEnv(EnvPrefix + "_" + key)
		return ok
	}

	if fileConfig.Server.Port != 0 && !set("SERVER_PORT") {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if len(fileConfig.Security.AllowedOrigins) > 0 && !set("SECURITY_ALLOWED_ORIGINS") {
		envConfig.Security.AllowedOrigins = fileConfig.Security.AllowedOrigins
	}
	if fileConfig.Logging.Level != "" && !set("LOGGING_LEVEL") {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if fileConfig.Logging.Output != "" && !set("LOGGING_OUTPUT") {
		envConfig.Logging.Output = fileConfig.Logging.Output
	}
	if fileConfig.Chat.HistoryCapacity != 0 && !set("CHAT_HISTORY_CAPACITY") {
		envConfig.Chat.HistoryCapacity = fileConfig.Chat.HistoryCapacity
	}
	if fileConfig.Chat.MaxMessageLength != 0 && !set("CHAT_MAX_MESSAGE_LENGTH") {
		envConfig.Chat.MaxMessageLength = fileConfig.Chat.MaxMessageLength
	}
	if fileConfig.Chat.MalformedFramePolicy != "" && !set("CHAT_MALFORMED_FRAME_POLICY") {
		envConfig.Chat.MalformedFramePolicy = fileConfig.Chat.MalformedFramePolicy
	}
	if fileConfig.Auth.JWTSecret != "" && !set("AUTH_JWT_SECRET") {
		envConfig.Auth.JWTSecret = fileConfig.Auth.JWTSecret
	}
	if fileConfig.Mongo.URI != "" && !set("MONGO_URI") {
		envConfig.Mongo.URI = fileConfig.Mongo.URI
	}
	if fileConfig.Mongo.Database != "" && !set("MONGO_DATABASE") {
		envConfig.Mongo.Database = fileConfig.Mongo.Database
	}
	if fileConfig.Redis.Addr != "" && !set("REDIS_ADDR") {
		envConfig.Redis.Addr = fileConfig.Redis.Addr
	}

	return envConfig
}

var validate = validator.New()

// validate validates the configuration
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket ping period (%s) must be shorter than pong wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}

	if minFrame := MinFrameBytes(c.Chat.MaxMessageLength); c.WebSocket.MaxFrameBytes < minFrame {
		return fmt.Errorf("websocket max frame bytes (%d) must be at least %d to carry a %d-rune message",
			c.WebSocket.MaxFrameBytes, minFrame, c.Chat.MaxMessageLength)
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return nil
}

// MinFrameBytes is the smallest read limit that still admits a post of
// maxMessageLength runes, so long text is truncated instead of closing the socket
func MinFrameBytes(maxMessageLength int) int64 {
	return int64(maxEscapedRuneBytes*maxMessageLength + frameOverheadBytes)
}

// Validate exposes validation for configurations built in code
func (c *Config) Validate() error {
	return c.validate()
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001", "*.vercel.app"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  256,
			MaxFrameBytes:   DefaultMaxFrameBytes,
			PingPeriod:      WebSocketPingPeriod,
			PongWait:        WebSocketPongWait,
			WriteWait:       WebSocketWriteWait,
		},
		Chat: ChatConfig{
			HistoryCapacity:      DefaultHistoryCapacity,
			MaxMessageLength:     DefaultMaxMessageLength,
			EchoToSender:         true,
			MalformedFramePolicy: MalformedPolicyReply,
			FrameRate:            0,
			FrameBurst:           10,
		},
		Auth: AuthConfig{
			JWTAlgorithm: "HS256",
		},
		Mongo: MongoConfig{
			Database:        "pricewatch",
			UsersCollection: "users",
			Timeout:         5 * time.Second,
			MaxPoolSize:     20,
		},
		Redis: RedisConfig{
			CacheTTL: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
