package config

import (
	"time"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

type Config struct {
	Environment    string               `mapstructure:"environment"`
	Server         ServerConfig         `mapstructure:"server"`
	Realtime       RealtimeConfig       `mapstructure:"realtime"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Notifications  NotificationConfig   `mapstructure:"notifications"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

// EndpointConfig is one set of backend URLs. Empty URLs disable the
// matching transport.
type EndpointConfig struct {
	SocketURL  string `mapstructure:"socket_url"`
	SSEURL     string `mapstructure:"sse_url"`
	APIBaseURL string `mapstructure:"api_base_url"`
	PollURL    string `mapstructure:"poll_url"`
}

type RealtimeConfig struct {
	Development EndpointConfig `mapstructure:"development"`
	Production  EndpointConfig `mapstructure:"production"`

	// Explicit URLs override the environment block.
	SocketURL  string `mapstructure:"socket_url"`
	SSEURL     string `mapstructure:"sse_url"`
	APIBaseURL string `mapstructure:"api_base_url"`
	PollURL    string `mapstructure:"poll_url"`

	Token                string             `mapstructure:"token"`
	AutoConnect          bool               `mapstructure:"auto_connect"`
	ReconnectInterval    time.Duration      `mapstructure:"reconnect_interval"`
	MaxReconnectInterval time.Duration      `mapstructure:"max_reconnect_interval"`
	MaxReconnectAttempts int                `mapstructure:"max_reconnect_attempts"`
	SSEReconnectInterval time.Duration      `mapstructure:"sse_reconnect_interval"`
	PollInterval         time.Duration      `mapstructure:"poll_interval"`
	IdentityPoll         IdentityPollConfig `mapstructure:"identity_poll"`
	Filters              FilterConfig       `mapstructure:"filters"`
}

type IdentityPollConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Limit    int           `mapstructure:"limit"`
}

type FilterConfig struct {
	Search     string `mapstructure:"search"`
	Priority   string `mapstructure:"priority"`
	Status     string `mapstructure:"status"`
	AssignedTo string `mapstructure:"assigned_to"`
	Industry   string `mapstructure:"industry"`
}

// Endpoints resolves the URLs for environment: the matching block first,
// then any explicit URL on top.
func (c RealtimeConfig) Endpoints(environment string) EndpointConfig {
	out := c.Development
	if environment == EnvironmentProduction {
		out = c.Production
	}

	override := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	override(&out.SocketURL, c.SocketURL)
	override(&out.SSEURL, c.SSEURL)
	override(&out.APIBaseURL, c.APIBaseURL)
	override(&out.PollURL, c.PollURL)
	return out
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers"`
	GroupID           string      `mapstructure:"group_id"`
	InputTopic        string      `mapstructure:"input_topic"`
	NotificationTopic string      `mapstructure:"notification_topic"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Retry             RetryConfig `mapstructure:"retry"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type NotificationConfig struct {
	QueueSize int         `mapstructure:"queue_size"`
	Guard     GuardConfig `mapstructure:"guard"`
}

// GuardConfig controls the cross-replica notification guard.
type GuardConfig struct {
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
