package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixNotify = "notify:"
)

const (
	ServiceName = "workfeed"
	SocketPath  = "/ws"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultTTLSeconds = 3600
	DefaultQueueSize  = 256
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	SinkLog    = "log"
	SinkBroker = "broker"
	SinkMulti  = "multi"
	SinkAsync  = "async"
)
