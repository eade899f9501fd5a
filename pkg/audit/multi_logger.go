package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger fans each event out to several sinks. A failing sink does not
// stop the others; its error is returned joined with the rest.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger skips nil sinks so optional destinations can be passed as is
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	return m.each(func(l Logger) error { return l.Log(ctx, event) })
}

func (m *MultiLogger) Close() error {
	return m.each(Logger.Close)
}

func (m *MultiLogger) each(fn func(Logger) error) error {
	var errs []error
	for i, l := range m.loggers {
		if err := fn(l); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %d (%T): %w", i, l, err))
		}
	}
	return errors.Join(errs...)
}
