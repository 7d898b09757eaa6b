package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubjects(t *testing.T) {
	c := Config{Subject: "ua.data"}
	assert.Equal(t, []string{"ua.data"}, c.Subjects())
	c.MetadataSubject = "ua.meta"
	assert.Equal(t, []string{"ua.data", "ua.meta"}, c.Subjects())
}

func TestOptions(t *testing.T) {
	c := Config{Username: "u", Password: "p", ClientName: "dash", ReconnectWait: time.Second}
	opts := c.options(zap.NewNop())

	o := nats.GetDefaultOptions()
	for _, opt := range opts {
		require.NoError(t, opt(&o))
	}
	assert.Equal(t, "u", o.User)
	assert.Equal(t, "p", o.Password)
	assert.Equal(t, "dash", o.Name)
	assert.Equal(t, time.Second, o.ReconnectWait)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "", ContentType(nil))
	assert.Equal(t, "", ContentType(&nats.Msg{}))

	msg := nats.NewMsg("ua.data")
	msg.Header.Set("Content-Type", "application/octet-stream")
	assert.Equal(t, "application/octet-stream", ContentType(msg))

	msg = &nats.Msg{Header: nats.Header{"content-type": []string{"application/json"}}}
	assert.Equal(t, "application/json", ContentType(msg))
}

func TestHandleForwardsPayload(t *testing.T) {
	var got []byte
	var ct string
	s := NewSubscriber(Config{}, func(payload []byte, receivedAt time.Time, contentType string) {
		got, ct = payload, contentType
		assert.False(t, receivedAt.IsZero())
	}, zap.NewNop())

	msg := nats.NewMsg("ua.data")
	msg.Data = []byte(`{"MessageId":"1"}`)
	msg.Header.Set("Content-Type", "application/json")
	s.handle(msg)

	assert.Equal(t, msg.Data, got)
	assert.Equal(t, "application/json", ct)
	assert.False(t, s.Connected())
}

func TestRunRequiresSubject(t *testing.T) {
	require.Error(t, NewSubscriber(Config{URL: "nats://localhost:4222"}, nil, zap.NewNop()).Run(context.Background()))
}
