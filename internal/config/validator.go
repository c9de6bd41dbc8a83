package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if cfg.Environment != EnvironmentDevelopment && cfg.Environment != EnvironmentProduction {
		errors = append(errors, &ValidationError{
			Field:   "environment",
			Message: fmt.Sprintf("unknown environment: %s (supported: development, production)", cfg.Environment),
		})
	}

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateRealtime(cfg.Realtime, cfg.Environment); err != nil {
		errors = append(errors, err)
	}

	if err := validateRedis(cfg.Redis); err != nil {
		errors = append(errors, err)
	}

	if cfg.Broker.Kafka.Enabled() {
		if err := validateKafka(cfg.Broker.Kafka); err != nil {
			errors = append(errors, err)
		}
	}

	if err := validateNotifications(cfg.Notifications); err != nil {
		errors = append(errors, err)
	}

	if err := validateLogging(cfg.Logging); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "server.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateRealtime(cfg RealtimeConfig, environment string) error {
	endpoints := cfg.Endpoints(environment)

	urls := []struct {
		field   string
		value   string
		schemes []string
	}{
		{"realtime.socket_url", endpoints.SocketURL, []string{"ws", "wss"}},
		{"realtime.sse_url", endpoints.SSEURL, []string{"http", "https"}},
		{"realtime.api_base_url", endpoints.APIBaseURL, []string{"http", "https"}},
		{"realtime.poll_url", endpoints.PollURL, []string{"http", "https"}},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if err := validateURL(u.field, u.value, u.schemes); err != nil {
			return err
		}
	}

	if cfg.ReconnectInterval <= 0 {
		return &ValidationError{
			Field:   "realtime.reconnect_interval",
			Message: "reconnect interval must be positive",
		}
	}

	if cfg.MaxReconnectInterval > 0 && cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		return &ValidationError{
			Field:   "realtime.max_reconnect_interval",
			Message: "max_reconnect_interval must be greater than or equal to reconnect_interval",
		}
	}

	if cfg.MaxReconnectAttempts < 0 {
		return &ValidationError{
			Field:   "realtime.max_reconnect_attempts",
			Message: "max_reconnect_attempts must be non-negative",
		}
	}

	if cfg.SSEReconnectInterval <= 0 {
		return &ValidationError{
			Field:   "realtime.sse_reconnect_interval",
			Message: "sse reconnect interval must be positive",
		}
	}

	if endpoints.PollURL != "" && cfg.PollInterval <= 0 {
		return &ValidationError{
			Field:   "realtime.poll_interval",
			Message: "poll interval must be positive when polling is configured",
		}
	}

	if cfg.IdentityPoll.Enabled {
		if endpoints.APIBaseURL == "" {
			return &ValidationError{
				Field:   "realtime.identity_poll.enabled",
				Message: "identity polling requires api_base_url",
			}
		}
		if cfg.IdentityPoll.Limit < 1 {
			return &ValidationError{
				Field:   "realtime.identity_poll.limit",
				Message: fmt.Sprintf("limit must be positive, got %d", cfg.IdentityPoll.Limit),
			}
		}
	}

	return nil
}

func validateURL(field, value string, schemes []string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid URL: %s", value),
		}
	}

	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("unsupported scheme %q (supported: %s)", u.Scheme, strings.Join(schemes, ", ")),
	}
}

func validateRedis(cfg RedisConfig) error {
	if !cfg.Enabled() && cfg.Port == 0 {
		return nil
	}

	if cfg.Host == "" {
		return &ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.InputTopic != "" && cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateNotifications(cfg NotificationConfig) error {
	if cfg.QueueSize < 1 {
		return &ValidationError{
			Field:   "notifications.queue_size",
			Message: fmt.Sprintf("queue size must be positive, got %d", cfg.QueueSize),
		}
	}

	if cfg.Guard.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "notifications.guard.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	switch strings.ToLower(cfg.Guard.OnRedisError) {
	case "", "allow", "deny":
	default:
		return &ValidationError{
			Field:   "notifications.guard.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.Guard.OnRedisError),
		}
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s", cfg.Level),
		}
	}

	switch cfg.Format {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: json, console)", cfg.Format),
		}
	}

	return nil
}
