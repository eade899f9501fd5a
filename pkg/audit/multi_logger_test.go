package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/observability"
)

type recordingLogger struct {
	events []*AuditEvent
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *AuditEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return nil
}

func TestMultiLogger_FansOut(t *testing.T) {
	failing := &recordingLogger{err: errors.New("db down")}
	ok := &recordingLogger{}
	m := NewMultiLogger(failing, ok)

	ctx := context.Background()
	err := m.Log(ctx, NewAuthorizationEvent(ctx, EventTypeAuthzAccessDenied, nil, ResourceTypeUser, "4", EventStatusDenied, "missing User.GrantPermission"))
	assert.Error(t, err)

	require.Len(t, ok.events, 1)
	assert.Equal(t, EventTypeAuthzAccessDenied, ok.events[0].EventType)
	assert.Len(t, failing.events, 1)

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestMultiLogger_SkipsNilSinks(t *testing.T) {
	sink := &recordingLogger{err: errors.New("boom")}
	m := NewMultiLogger(nil, sink)

	err := m.Log(context.Background(), &AuditEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit sink 0 (*audit.recordingLogger)")
	assert.Len(t, sink.events, 1)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(observability.NewLogger(observability.InfoLevel, &buf))

	actor := int64(9)
	ctx := context.Background()
	require.NoError(t, l.Log(ctx, NewAuthorizationEvent(ctx, EventTypeAuthzPermissionRevoke, &actor, ResourceTypeOverride, "1:2", EventStatusSuccess, "revoked override")))

	out := buf.String()
	assert.Contains(t, out, `"event_type":"authz.permission_revoke"`)
	assert.Contains(t, out, `"actor_id":9`)
	assert.Contains(t, out, `"audit":true`)
	assert.Contains(t, out, "revoked override")
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	assert.NoError(t, l.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, l.Close())
}
