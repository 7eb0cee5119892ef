// Package client is the controller-side API: discover devices, establish
// sessions, send reliable control commands, and stream frames.
package client

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/core/services"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/internal/infrastructure/discovery"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/tracing"
	"alpinenet/pkg/utils"
	"alpinenet/pkg/wire"
)

// Options configures a controller client. Zero values fall back to
// sensible defaults.
type Options struct {
	DeviceName     string
	Capabilities   domain.CapabilitySet
	Handshake      services.HandshakeConfig
	ControlBackoff retry.Config
	MaxChannels    int
	Metrics        ports.MetricsCollector
	Logger         *zap.Logger
}

func (o *Options) fill() error {
	if o.DeviceName == "" {
		o.DeviceName = "alpine-controller"
	}
	if o.Capabilities == nil {
		o.Capabilities = domain.CapabilitySet{
			domain.CapabilitySigning:      nil,
			domain.CapabilityEncryption:   nil,
			domain.CapabilityInterpolable: nil,
		}
	}
	if o.Handshake.Timeout == 0 {
		o.Handshake = services.DefaultHandshakeConfig()
	}
	if o.ControlBackoff.MaxAttempts == 0 {
		o.ControlBackoff = retry.Config{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		}
	}
	if o.MaxChannels == 0 {
		o.MaxChannels = 512
	}
	if o.Metrics == nil {
		o.Metrics = ports.NopMetrics{}
	}
	if o.Logger == nil {
		log, err := logger.New("info")
		if err != nil {
			return err
		}
		o.Logger = log
	}
	return nil
}

// Client is a controller endpoint with its own device identity.
type Client struct {
	creds      *crypto.Credentials
	opts       Options
	log        *logger.ContextLogger
	handshake  *services.HandshakeService
	control    *services.ControlService
	streams    *services.StreamService
	discoverer *discovery.Client
}

// New creates a client with a freshly generated device identity.
func New(opts Options) (*Client, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	creds, err := crypto.GenerateCredentials(opts.DeviceName)
	if err != nil {
		return nil, err
	}
	log := logger.NewContextLogger(opts.Logger)
	return &Client{
		creds:      creds,
		opts:       opts,
		log:        log,
		handshake:  services.NewHandshakeService(creds, opts.Capabilities, opts.Handshake, log),
		control:    services.NewControlService(opts.ControlBackoff, opts.Metrics, log),
		streams:    services.NewStreamService(opts.MaxChannels, opts.Metrics, log),
		discoverer: discovery.NewClient(opts.Capabilities, log),
	}, nil
}

// Identity returns the client's device identity.
func (c *Client) Identity() domain.DeviceIdentity {
	return c.creds.Identity
}

// Discover broadcasts a discovery request over the given transport and
// collects validated replies for the window.
func (c *Client) Discover(ctx context.Context, transport ports.PacketTransport, window time.Duration) ([]domain.DiscoveryReply, error) {
	ctx, span := tracing.StartSpan(ctx, "discover")
	replies, err := c.discoverer.Discover(ctx, transport, window)
	tracing.EndSpan(span, err)
	return replies, err
}

// Connect establishes a session with the device on the other end of the
// transport and starts the connection's read loop.
func (c *Client) Connect(ctx context.Context, transport ports.PacketTransport) (*Conn, error) {
	ctx, span := tracing.StartSpan(ctx, "connect")
	session, err := c.handshake.Initiate(ctx, transport)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		client:    c,
		session:   session,
		transport: transport,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go conn.readLoop(loopCtx)
	return conn, nil
}

// Conn is one established session from the controller's point of view.
type Conn struct {
	client    *Client
	session   *domain.Session
	transport ports.PacketTransport
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	sender *services.StreamSender
}

// readLoop routes inbound packets to the control layer until Close.
func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		data, err := c.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if domain.IsCode(err, domain.ErrCodeHandshakeTimeout) {
				continue
			}
			return
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil {
			continue
		}
		switch pkt.Type {
		case domain.MsgControlAck:
			var ack domain.Acknowledge
			if wire.DecodeBody(pkt, &ack) == nil {
				c.client.control.HandleAck(c.session, ack)
			}
		case domain.MsgKeepalive:
			var msg domain.KeepaliveMessage
			if wire.DecodeBody(pkt, &msg) == nil {
				c.client.control.HandleKeepalive(c.session, msg)
			}
		}
	}
}

// Session returns the underlying session.
func (c *Conn) Session() *domain.Session {
	return c.session
}

// SendControl delivers one control operation reliably. The payload is
// encoded with the canonical codec before transmission.
func (c *Conn) SendControl(ctx context.Context, op domain.ControlOp, payload any) error {
	body, err := wire.Marshal(payload)
	if err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode control payload")
	}
	ctx, span := tracing.StartSpan(ctx, "control.send",
		attribute.String("op", string(op)),
	)
	err = c.client.control.Send(ctx, c.session, c.transport, op, body)
	tracing.EndSpan(span, err)
	return err
}

// SetChannels sets raw channel values on the device.
func (c *Conn) SetChannels(ctx context.Context, format domain.ChannelFormat, values []uint16) error {
	return c.SendControl(ctx, domain.OpSetChannels, domain.SetChannelsPayload{
		Format: format,
		Values: values,
	})
}

// StartStream binds a stream profile to the session on both ends and
// returns after the peer acknowledged the stream start.
func (c *Conn) StartStream(ctx context.Context, profile domain.StreamProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender != nil {
		return domain.NewError(domain.ErrCodeProfileImmutable, "stream already started on session")
	}
	sender, err := c.client.streams.StartStream(c.session, c.transport, profile)
	if err != nil {
		return err
	}
	compiled, _ := c.session.Profile()
	if err := c.SendControl(ctx, domain.OpStreamStart, domain.StreamStartPayload{
		Intent:           profile.Intent,
		LatencyWeight:    profile.LatencyWeight,
		ResilienceWeight: profile.ResilienceWeight,
		ConfigID:         compiled.ConfigID,
	}); err != nil {
		return err
	}
	c.sender = sender
	return nil
}

// SendFrame emits one streaming frame captured now.
func (c *Conn) SendFrame(ctx context.Context, format domain.ChannelFormat, channels []uint16) error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return domain.NewError(domain.ErrCodeSessionNotReady, "stream not started")
	}
	return sender.SendFrame(ctx, utils.NowMicros(), format, channels)
}

// Observe feeds receiver-reported network metrics into the sender-side
// adaptation pipeline and returns the resulting configuration.
func (c *Conn) Observe(metrics domain.NetworkMetrics, windowComplete bool) (domain.AdaptationState, error) {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return domain.AdaptationState{}, domain.NewError(domain.ErrCodeSessionNotReady, "stream not started")
	}
	return sender.Observe(metrics, windowComplete), nil
}

// Keepalive refreshes the session on the peer.
func (c *Conn) Keepalive(ctx context.Context) error {
	return c.client.control.SendKeepalive(ctx, c.session, c.transport, utils.NowMillis())
}

// Metrics returns the sender-side adaptation and recovery state.
func (c *Conn) Metrics() (domain.AdaptationState, domain.RecoveryState, error) {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return domain.AdaptationState{}, domain.RecoveryState{}, domain.NewError(domain.ErrCodeSessionNotReady, "stream not started")
	}
	return sender.State(), sender.Recovery(), nil
}

// Close tears the connection down: the read loop stops, the session is
// closed, and the transport released.
func (c *Conn) Close() error {
	c.cancel()
	c.session.Close()
	err := c.transport.Close()
	<-c.done
	return err
}
