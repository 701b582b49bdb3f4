// Package mqtt connects the daemon to an MQTT broker. Each channel name is
// bound to one topic; every numeric value published there becomes an update
// of that channel. The client reconnects with exponential backoff and
// resubscribes after every reconnect.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/xtxerr/axislog/internal/errors"
	"github.com/xtxerr/axislog/internal/logging"
	"github.com/xtxerr/axislog/internal/storage/config"
	"github.com/xtxerr/axislog/internal/storage/types"
	"github.com/xtxerr/axislog/internal/validation"
)

// Options configures a Client.
type Options struct {
	// Broker is the broker address (host:port).
	Broker string
	TLS    bool

	// ClientID defaults to "axislog-" and a random UUID.
	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// TopicTemplate maps a channel name to its topic.
	TopicTemplate string

	Format Format
	QoS    byte

	// MaxReconnectInterval caps the reconnect backoff.
	MaxReconnectInterval time.Duration
}

// OptionsFromConfig converts the mqtt config section.
func OptionsFromConfig(cfg config.MQTTConfig) (Options, error) {
	format, err := ParseFormat(cfg.Payload)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Broker:               cfg.Broker,
		TLS:                  cfg.TLS,
		ClientID:             cfg.ClientID,
		Username:             cfg.Username,
		Password:             cfg.Password,
		KeepAlive:            cfg.KeepAlive,
		ConnectTimeout:       cfg.ConnectTimeout,
		TopicTemplate:        cfg.TopicTemplate,
		Format:               format,
		QoS:                  byte(cfg.QoS),
		MaxReconnectInterval: cfg.Reconnect.MaxInterval,
	}, nil
}

// Handler receives the updates of one channel. It must not block.
type Handler func(types.Update)

type route struct {
	name    string
	channel types.Channel
	handle  Handler
}

// Client is an MQTT subscriber for channel values.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	routes map[string]*route // by topic
	names  map[string]string // channel name -> topic

	// conn is the connected paho client, nil while disconnected
	conn atomic.Pointer[paho.Client]
	// connected is closed and replaced on every successful connect
	connected chan struct{}

	running atomic.Bool
	stats   counters
}

// New creates a client. It does not connect.
func New(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "axislog-" + uuid.NewString()
	}
	if opts.TopicTemplate == "" {
		opts.TopicTemplate = "axislog/" + validation.ChannelPlaceholder
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}

	return &Client{
		opts:      opts,
		logger:    logging.Component("mqtt").With("broker", opts.Broker, "client_id", opts.ClientID),
		routes:    make(map[string]*route),
		names:     make(map[string]string),
		connected: make(chan struct{}),
	}
}

// ClientID returns the MQTT client id.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Subscribe binds the channel name to c. Exactly one handler may be bound
// per name. Subscriptions are sent on every (re)connect, so Subscribe is
// normally called before Run.
func (c *Client) Subscribe(name string, ch types.Channel, fn Handler) (topic string, err error) {
	if err := validation.ValidateChannelName(name); err != nil {
		return "", err
	}
	if !ch.Valid() {
		return "", errors.NewUnknownChannel(ch.String())
	}

	topic = validation.Topic(c.opts.TopicTemplate, name)
	if err := validation.ValidateTopic(topic); err != nil {
		return "", err
	}

	c.mu.Lock()
	if _, ok := c.names[name]; ok {
		c.mu.Unlock()
		return "", fmt.Errorf("channel %q is already subscribed", name)
	}
	c.names[name] = topic
	c.routes[topic] = &route{name: name, channel: ch, handle: fn}
	c.mu.Unlock()

	if conn := c.conn.Load(); conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		defer cancel()
		if err := c.subscribe(ctx, conn, topic); err != nil {
			c.logger.Warn("subscribe failed, retried on reconnect", "topic", topic, "error", err)
		}
	}
	return topic, nil
}

// SubscribeAll binds the channel names, in axis order, to handle. Errors
// returned by handle are the receiver's to count; they are ignored here.
func (c *Client) SubscribeAll(names [types.NumChannels]string, handle func(types.Update) error) error {
	for _, ch := range types.Channels {
		topic, err := c.Subscribe(names[ch], ch, func(u types.Update) { _ = handle(u) })
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		c.logger.Debug("channel bound", "axis", ch.String(), "name", names[ch], "topic", topic)
	}
	return nil
}

// Run connects and keeps the connection alive until ctx is cancelled.
// Connection failures are retried with exponential backoff; Run only
// returns when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer c.running.Store(false)

	for attempt := 0; ; attempt++ {
		lost, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.logger.Info("connected", "subscriptions", c.topicCount())

			select {
			case <-ctx.Done():
				c.disconnect()
				return nil
			case err = <-lost:
				c.conn.Store(nil)
				c.stats.disconnects.Add(1)
				c.logger.Warn("connection lost", "error", err)
			}
		} else {
			c.stats.connectErrors.Add(1)
			c.logger.Warn("connect failed", "attempt", attempt+1, "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		delay := backoff(attempt, c.opts.MaxReconnectInterval)
		c.logger.Debug("reconnecting", "in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connect dials, connects and subscribes. The returned channel receives
// the error that ends the connection.
func (c *Client) connect(ctx context.Context) (<-chan error, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	lost := make(chan error, 1)
	signal := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	cli := paho.NewClient(paho.ClientConfig{
		ClientID: c.opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.receive(pr.Packet)
				return true, nil
			},
		},
		OnClientError: signal,
		OnServerDisconnect: func(d *paho.Disconnect) {
			signal(fmt.Errorf("server disconnect, reason code 0x%02x", d.ReasonCode))
		},
	})

	cp := &paho.Connect{
		ClientID:     c.opts.ClientID,
		CleanStart:   true,
		KeepAlive:    uint16(c.opts.KeepAlive.Seconds()),
		Username:     c.opts.Username,
		UsernameFlag: c.opts.Username != "",
		Password:     []byte(c.opts.Password),
		PasswordFlag: c.opts.Password != "",
	}
	if _, err := cli.Connect(ctx, cp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionFailed, err)
	}

	if err := c.subscribe(ctx, cli, c.topics()...); err != nil {
		_ = cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, err
	}

	c.conn.Store(cli)
	c.stats.connects.Add(1)

	c.mu.Lock()
	close(c.connected)
	c.connected = make(chan struct{})
	c.mu.Unlock()

	return lost, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.opts.TLS {
		d := tls.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", c.opts.Broker)
		if err != nil {
			return nil, fmt.Errorf("%w: tls dial %s: %v", errors.ErrConnectionFailed, c.opts.Broker, err)
		}
		return packets.NewThreadSafeConn(conn), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionFailed, c.opts.Broker, err)
	}
	return conn, nil
}

func (c *Client) subscribe(ctx context.Context, cli *paho.Client, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	sub := &paho.Subscribe{}
	for _, t := range topics {
		sub.Subscriptions = append(sub.Subscriptions, paho.SubscribeOptions{Topic: t, QoS: c.opts.QoS})
	}

	suback, err := cli.Subscribe(ctx, sub)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for i, code := range suback.Reasons {
		if code >= 0x80 && i < len(topics) {
			return fmt.Errorf("subscribe %s: reason code 0x%02x", topics[i], code)
		}
	}
	return nil
}

func (c *Client) disconnect() {
	cli := c.conn.Swap(nil)
	if cli == nil {
		return
	}
	if err := cli.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		c.logger.Debug("disconnect", "error", err)
	}
	c.logger.Info("disconnected")
}

// receive decodes a message and hands its values to the channel handler.
func (c *Client) receive(p *paho.Publish) {
	c.stats.messages.Add(1)

	c.mu.RLock()
	r, ok := c.routes[p.Topic]
	c.mu.RUnlock()
	if !ok {
		c.stats.unrouted.Add(1)
		return
	}

	var contentType string
	if p.Properties != nil {
		contentType = p.Properties.ContentType
	}

	vs, err := Decode(c.opts.Format, contentType, p.Payload)
	if err != nil {
		n := c.stats.decodeErrors.Add(1)
		// Log the first failure and then every 100th
		if n == 1 || n%100 == 0 {
			c.logger.Warn("dropping undecodable message", "channel", r.name, "errors_total", n, "error", err)
		}
		return
	}

	c.stats.values.Add(int64(len(vs)))
	now := time.Now()
	for _, v := range vs {
		r.handle(types.Update{Channel: r.channel, Value: v, Time: now})
	}
}

// Publish sends one value to the topic of a channel name in the
// configured format (text for auto).
func (c *Client) Publish(ctx context.Context, name string, v float64) error {
	cli := c.conn.Load()
	if cli == nil {
		return errors.ErrNotConnected
	}

	var (
		payload     []byte
		contentType string
		err         error
	)
	switch c.opts.Format {
	case FormatSenMLJSON:
		payload, err = EncodeSenMLJSON(name, v)
		contentType = ContentTypeSenMLJSON
	case FormatSenMLCBOR:
		payload, err = EncodeSenMLCBOR(name, v)
		contentType = ContentTypeSenMLCBOR
	default:
		payload, contentType = EncodeText(v), ContentTypeText
	}
	if err != nil {
		return err
	}

	_, err = cli.Publish(ctx, &paho.Publish{
		Topic:      validation.Topic(c.opts.TopicTemplate, name),
		QoS:        c.opts.QoS,
		Payload:    payload,
		Properties: &paho.PublishProperties{ContentType: contentType},
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	c.stats.published.Add(1)
	return nil
}

// WaitConnected blocks until the client is connected or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		ch := c.connected
		c.mu.RUnlock()

		if c.conn.Load() != nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.conn.Load() != nil
}

func (c *Client) topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.routes))
	for t := range c.routes {
		topics = append(topics, t)
	}
	return topics
}

func (c *Client) topicCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:     c.IsConnected(),
		Connects:      c.stats.connects.Load(),
		ConnectErrors: c.stats.connectErrors.Load(),
		Disconnects:   c.stats.disconnects.Load(),
		Messages:      c.stats.messages.Load(),
		Values:        c.stats.values.Load(),
		DecodeErrors:  c.stats.decodeErrors.Load(),
		Unrouted:      c.stats.unrouted.Load(),
		Published:     c.stats.published.Load(),
	}
}

// Stats holds client statistics.
type Stats struct {
	Connected     bool
	Connects      int64
	ConnectErrors int64
	Disconnects   int64
	Messages      int64
	Values        int64 // Values handed to handlers
	DecodeErrors  int64
	Unrouted      int64 // Messages on topics without a handler
	Published     int64
}

type counters struct {
	connects      atomic.Int64
	connectErrors atomic.Int64
	disconnects   atomic.Int64
	messages      atomic.Int64
	values        atomic.Int64
	decodeErrors  atomic.Int64
	unrouted      atomic.Int64
	published     atomic.Int64
}
