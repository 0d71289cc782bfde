package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"reportinsight/internal/engine"
)

// amqpConn and amqpChannel are the parts of *amqp.Connection and
// *amqp.Channel the publisher uses.
type amqpConn interface {
	IsClosed() bool
	Close() error
}

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url, exchange string) (amqpConn, amqpChannel, error)

// AMQP publishes events as persistent JSON messages to a direct exchange.
// The connection is re-established lazily after a broker restart.
type AMQP struct {
	mu         sync.Mutex
	url        string
	dial       dialFunc
	conn       amqpConn
	channel    amqpChannel
	exchange   string
	routingKey string
}

func NewAMQP(url, exchange, routingKey string) (*AMQP, error) {
	return newAMQP(url, exchange, routingKey, dialBroker)
}

func newAMQP(url, exchange, routingKey string, dial dialFunc) (*AMQP, error) {
	p := &AMQP{url: url, dial: dial, exchange: exchange, routingKey: routingKey}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQP) Name() string { return "amqp" }

// Notify publishes ev with the routing key "<configured key>.<event type>",
// e.g. report.events.report.reviewed.
func (p *AMQP) Notify(ctx context.Context, ev engine.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         string(ev.Type),
	}
	return p.publish(ctx, p.routingKey+"."+string(ev.Type), publishing)
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

func (p *AMQP) connectLocked() error {
	conn, ch, err := p.dial(p.url, p.exchange)
	if err != nil {
		return err
	}
	p.conn = conn
	p.channel = ch
	return nil
}

// dialBroker connects, opens a channel and declares the durable direct
// exchange.
func dialBroker(url, exchange string) (amqpConn, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func (p *AMQP) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}

// publish sends msg, reconnecting once on a closed connection. A context
// that is already done skips the publish; once the broker has accepted the
// message the result is success regardless of ctx.
func (p *AMQP) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	err := p.channel.Publish(p.exchange, routingKey, false, false, msg)
	if err != nil && isConnClosedErr(err) {
		p.closeLocked()
		if cerr := p.connectLocked(); cerr != nil {
			return fmt.Errorf("publish: %w (reconnect failed: %v)", err, cerr)
		}
		err = p.channel.Publish(p.exchange, routingKey, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
