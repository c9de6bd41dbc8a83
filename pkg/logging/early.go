package logging

import (
	"fmt"
	"os"
)

// EarlyLog writes to the standard streams before the structured logger exists.
type EarlyLog struct {
	prefix string
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{prefix: "workfeed"}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, l.prefix+" ERROR: "+msg+"\n", args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, l.prefix+" FATAL: "+msg+"\n", args...)
	os.Exit(1)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, l.prefix+" INFO: "+msg+"\n", args...)
}
