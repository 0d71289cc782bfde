package notify

import (
	"context"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportinsight/internal/engine"
)

type fakeConn struct{ closed bool }

func (c *fakeConn) IsClosed() bool { return c.closed }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeChannel struct {
	keys      []string
	failFirst error
	onPublish func()
}

func (c *fakeChannel) Publish(_, key string, _, _ bool, _ amqp.Publishing) error {
	if c.failFirst != nil {
		err := c.failFirst
		c.failFirst = nil
		return err
	}
	c.keys = append(c.keys, key)
	if c.onPublish != nil {
		c.onPublish()
	}
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func newTestAMQP(t *testing.T, channels ...*fakeChannel) (*AMQP, *int) {
	t.Helper()
	dials := 0
	p, err := newAMQP("amqp://test", "reports", "report.events", func(string, string) (amqpConn, amqpChannel, error) {
		ch := channels[dials]
		dials++
		return &fakeConn{}, ch, nil
	})
	require.NoError(t, err)
	return p, &dials
}

func TestAMQP_PublishedDespiteContextEndingAfterward(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestAMQP(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.onPublish = cancel

	err := p.Notify(ctx, engine.Event{Type: engine.EventReportReviewed, ReportID: "r1"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"report.events.report.reviewed"}, ch.keys)
}

func TestAMQP_DoneContextSkipsPublish(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestAMQP(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Notify(ctx, engine.Event{Type: engine.EventReportReviewed})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ch.keys)
}

func TestAMQP_ReconnectsOnClosedChannel(t *testing.T) {
	stale := &fakeChannel{failFirst: amqp.ErrClosed}
	fresh := &fakeChannel{}
	p, dials := newTestAMQP(t, stale, fresh)

	require.NoError(t, p.Notify(context.Background(), engine.Event{Type: engine.EventReportClassified}))
	assert.Equal(t, 2, *dials)
	assert.Empty(t, stale.keys)
	assert.Equal(t, []string{"report.events.report.classified"}, fresh.keys)
}
