package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the fanout exchange used when none is configured.
const DefaultExchange = "twitch-questions.events"

const (
	amqpDialTimeout = 3 * time.Second
	// redialInterval bounds how often a lost broker session is re-established.
	redialInterval = time.Second
)

// amqpSession is one open connection+channel with the exchange declared.
type amqpSession interface {
	Publish(ctx context.Context, exchange string, msg amqp.Publishing) error
	Closed() bool
	Close() error
}

type dialFunc func(url, exchange string) (amqpSession, error)

// AMQPPublisher publishes to the durable fanout exchange it declared.
// Consumers bind their own queues; events published while nothing is bound are
// discarded by the broker. When the channel or connection is closed (broker
// restart, channel error) the next Publish dials a fresh session.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     dialFunc
	now      func() time.Time

	mu       sync.Mutex
	sess     amqpSession
	lastDial time.Time
}

// NewAMQPPublisher dials url and declares exchange (DefaultExchange when empty).
// The first connection must succeed.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, dialBroker)
}

func newAMQPPublisher(url, exchange string, dial dialFunc) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &AMQPPublisher{url: url, exchange: exchange, dial: dial, now: time.Now}
	sess, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	p.sess, p.lastDial = sess, p.now()
	return p, nil
}

// Exchange returns the exchange declared on the broker. Pass it to New.
func (p *AMQPPublisher) Exchange() string { return p.exchange }

// Publish implements Publisher. Events always go to the declared exchange; a
// different channel is rejected rather than published to an undeclared one.
func (p *AMQPPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel != p.exchange {
		return fmt.Errorf("amqp publisher declared exchange %q, not %q", p.exchange, channel)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Timestamp:   time.Now(),
	}
	sess, err := p.session()
	if err != nil {
		return err
	}
	err = sess.Publish(ctx, p.exchange, msg)
	if err == nil || !(errors.Is(err, amqp.ErrClosed) || sess.Closed()) {
		return err
	}
	p.discard(sess)
	slog.Warn("amqp session closed; reopening", slog.Any("err", err), slog.String("component", "mirror"))
	if sess, err = p.session(); err != nil {
		return err
	}
	return sess.Publish(ctx, p.exchange, msg)
}

// session returns the open session, dialing a new one when it was lost.
func (p *AMQPPublisher) session() (amqpSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil && !p.sess.Closed() {
		return p.sess, nil
	}
	if p.sess != nil {
		_ = p.sess.Close()
		p.sess = nil
	}
	if wait := redialInterval - p.now().Sub(p.lastDial); wait > 0 {
		return nil, fmt.Errorf("amqp reconnect throttled for %s", wait.Round(time.Millisecond))
	}
	p.lastDial = p.now()
	sess, err := p.dial(p.url, p.exchange)
	if err != nil {
		return nil, fmt.Errorf("reopen amqp session: %w", err)
	}
	p.sess = sess
	return sess, nil
}

func (p *AMQPPublisher) discard(sess amqpSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == sess {
		_ = sess.Close()
		p.sess = nil
	}
}

// Close closes the current session.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	err := p.sess.Close()
	p.sess = nil
	return err
}

type brokerSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// dialBroker opens a connection and channel and declares exchange as a
// durable fanout.
func dialBroker(url, exchange string) (amqpSession, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(amqpDialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &brokerSession{conn: conn, ch: ch}, nil
}

func (s *brokerSession) Publish(ctx context.Context, exchange string, msg amqp.Publishing) error {
	return s.ch.PublishWithContext(ctx,
		exchange,
		"", // fanout ignores the routing key
		false,
		false,
		msg,
	)
}

func (s *brokerSession) Closed() bool {
	return s.conn.IsClosed() || s.ch.IsClosed()
}

func (s *brokerSession) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}
