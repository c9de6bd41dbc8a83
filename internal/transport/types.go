// Package transport contains the adapters that deliver work-item events to
// the ingestor: a WebSocket socket, a Server-Sent-Events stream, a cursor
// poller and an identity poller.
package transport

import (
	"context"
	"time"

	"workfeed/pkg/models"
)

// Handler receives every envelope an adapter decodes. Adapters call it from
// a single goroutine, in receive order.
type Handler func(ctx context.Context, env models.EventEnvelope)

// ErrorHandler is told about each detected connection error.
type ErrorHandler func(ctx context.Context, transport string, err error)

// Transport is the lifecycle every adapter exposes.
type Transport interface {
	Name() string
	Connect(ctx context.Context)
	Disconnect()
	Status() Status
}

// Status is a point-in-time view of an adapter.
type Status struct {
	Name              string     `json:"name"`
	Enabled           bool       `json:"enabled"`
	State             string     `json:"state"`
	Connected         bool       `json:"connected"`
	Connecting        bool       `json:"connecting"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	LastMessage       *time.Time `json:"last_message,omitempty"`
	Cursor            string     `json:"cursor,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Tests inject a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the wall clock.
func RealScheduler() Scheduler {
	return realScheduler{}
}
