package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	syncapp "github.com/reybrally/customer-sync-service/internal/app/sync"
	"github.com/reybrally/customer-sync-service/internal/logging"
)

type Config struct {
	URL           string
	Stream        string
	StreamMaxAge  time.Duration
	StreamMaxMsgs int64
	Subjects      []string
	Consumer      string
	MaxDeliver    int
	AckWait       time.Duration
	ReconnectWait time.Duration
	ClientName    string
}

// Client wraps the NATS connection and the durable pull consumer. The
// reconnect policy is unlimited attempts with a capped exponential delay: a
// background sync worker should outwait a broker outage rather than die.
type Client struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      Config
}

func Connect(cfg Config) (*Client, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	base := cfg.ReconnectWait

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			d := base
			for i := 1; i < attempts && d < 30*time.Second; i++ {
				d *= 2
			}
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.LogWarn("nats disconnected", logrus.Fields{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogInfo("nats reconnected", logrus.Fields{"url": nc.ConnectedUrl()})
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Client{nc: nc, js: js, cfg: cfg}, nil
}

// EnsureStream provisions the stream idempotently. Work-queue retention
// removes messages once acked; the MaxAge/MaxMsgs ceilings are a safety
// valve against unbounded growth, not a correctness mechanism.
func (c *Client) EnsureStream(ctx context.Context) error {
	scfg := jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.streamSubjects(),
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    c.cfg.StreamMaxAge,
		MaxMsgs:   c.cfg.StreamMaxMsgs,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}

	_, err := c.js.Stream(ctx, c.cfg.Stream)
	if err == nil {
		if _, err := c.js.UpdateStream(ctx, scfg); err != nil {
			return fmt.Errorf("update stream %s: %w", c.cfg.Stream, err)
		}
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := c.js.CreateStream(ctx, scfg); err != nil {
			return fmt.Errorf("create stream %s: %w", c.cfg.Stream, err)
		}
		logging.LogInfo("stream created", logrus.Fields{
			"stream":   c.cfg.Stream,
			"subjects": c.streamSubjects(),
		})
		return nil
	}
	return fmt.Errorf("check stream %s: %w", c.cfg.Stream, err)
}

// streamSubjects widens the configured event subjects to the whole entity
// namespace so the dead-letter subject lands in the same stream. The
// consumer filters back down to the event subjects only.
func (c *Client) streamSubjects() []string {
	if len(c.cfg.Subjects) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, 2)
	out := make([]string, 0, 2)
	for _, s := range c.cfg.Subjects {
		tok := s
		if i := indexDot(s); i > 0 {
			tok = s[:i] + ".>"
		}
		if _, ok := seen[tok]; !ok {
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func indexDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// EnsureConsumer provisions the durable pull consumer idempotently.
// Explicit ack, MaxDeliver redelivery budget, AckWait redelivery deadline.
func (c *Client) EnsureConsumer(ctx context.Context) error {
	ccfg := jetstream.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		AckPolicy:      jetstream.AckExplicitPolicy,
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        c.cfg.AckWait,
		FilterSubjects: c.cfg.Subjects,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, ccfg)
	if err != nil {
		return fmt.Errorf("ensure consumer %s on %s: %w", c.cfg.Consumer, c.cfg.Stream, err)
	}
	c.consumer = cons
	return nil
}

// Fetch pulls up to max messages, waiting at most timeout. A timeout with
// nothing pending returns an empty slice and a nil error.
func (c *Client) Fetch(ctx context.Context, max int, timeout time.Duration) ([]syncapp.Message, error) {
	if c.consumer == nil {
		return nil, fmt.Errorf("consumer %s not initialized", c.cfg.Consumer)
	}
	batch, err := c.consumer.Fetch(max, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, err
	}
	var out []syncapp.Message
	for m := range batch.Messages() {
		out = append(out, &jsMessage{msg: m})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, err
	}
	return out, nil
}

func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains the connection so in-flight acks reach the broker.
func (c *Client) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	if err := c.nc.Drain(); err != nil {
		logging.LogWarn("nats drain failed, closing hard", logrus.Fields{"error": err.Error()})
		c.nc.Close()
	}
}

type jsMessage struct {
	msg jetstream.Msg
}

func (m *jsMessage) Subject() string { return m.msg.Subject() }
func (m *jsMessage) Data() []byte    { return m.msg.Data() }

func (m *jsMessage) Deliveries() uint64 {
	md, err := m.msg.Metadata()
	if err != nil {
		return 0
	}
	return md.NumDelivered
}

func (m *jsMessage) Ack() error { return m.msg.Ack() }
func (m *jsMessage) Nak() error { return m.msg.Nak() }
