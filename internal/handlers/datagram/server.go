// Package datagram runs the device-side protocol surface: one UDP
// socket serving discovery, handshakes, control, and streaming for every
// peer.
package datagram

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/services"
	"alpinenet/internal/infrastructure/discovery"
	"alpinenet/internal/infrastructure/transport"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/utils"
	"alpinenet/pkg/wire"
)

// ChannelSink receives the channel values a control command or stream
// frame resolved to. Implementations drive the actual fixtures.
type ChannelSink func(values []uint16)

// Server is the device-side datagram dispatcher.
type Server struct {
	listener  *transport.UDPListener
	demux     *transport.Demux
	responder *discovery.Responder
	handshake *services.HandshakeService
	sessions  *services.SessionManager
	control   *services.ControlService
	streams   *services.StreamService
	sink      ChannelSink
	log       *logger.ContextLogger

	mu        sync.Mutex
	peers     map[domain.SessionID]*transport.PeerConn
	receivers map[domain.SessionID]*services.StreamReceiver
}

// NewServer wires the device-side services onto one listener.
func NewServer(
	listener *transport.UDPListener,
	responder *discovery.Responder,
	handshake *services.HandshakeService,
	sessions *services.SessionManager,
	control *services.ControlService,
	streams *services.StreamService,
	sink ChannelSink,
	log *logger.ContextLogger,
) *Server {
	s := &Server{
		listener:  listener,
		demux:     transport.NewDemux(listener),
		responder: responder,
		handshake: handshake,
		sessions:  sessions,
		control:   control,
		streams:   streams,
		sink:      sink,
		log:       log,
		peers:     make(map[domain.SessionID]*transport.PeerConn),
		receivers: make(map[domain.SessionID]*services.StreamReceiver),
	}
	s.registerHandlers()
	// Session teardown of any kind releases the peer view, the demux
	// entry, and any open receiver, so expired sessions cost nothing.
	sessions.OnClose(s.release)
	return s
}

func (s *Server) release(session *domain.Session) {
	s.mu.Lock()
	peer := s.peers[session.ID]
	delete(s.peers, session.ID)
	delete(s.receivers, session.ID)
	s.mu.Unlock()
	if peer != nil {
		s.demux.Remove(peer.Addr())
	}
	s.control.ReleaseSession(session.ID)
}

func (s *Server) registerHandlers() {
	s.control.RegisterHandler(domain.OpSetChannels, s.handleSetChannels)
	s.control.RegisterHandler(domain.OpSetGroups, s.handleSetGroups)
	s.control.RegisterHandler(domain.OpIdentify, s.handleIdentify)
	s.control.RegisterHandler(domain.OpStreamStart, s.handleStreamStart)
	s.control.RegisterHandler(domain.OpStreamStop, s.handleStreamStop)
}

// Run reads and dispatches datagrams until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		data, addr, err := s.listener.RecvFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if domain.IsCode(err, domain.ErrCodeHandshakeTimeout) {
				continue
			}
			return err
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil {
			continue
		}

		switch pkt.Type {
		case domain.MsgDiscoveryRequest:
			s.handleDiscovery(ctx, pkt, addr)

		case domain.MsgSessionInit:
			peer, fresh := s.demux.Peer(addr)
			if fresh {
				var init domain.SessionInitMessage
				if err := wire.DecodeBody(pkt, &init); err != nil {
					s.demux.Remove(addr)
					continue
				}
				go s.accept(ctx, peer, init)
			} else {
				s.demux.Deliver(peer, data)
			}

		case domain.MsgSessionReady:
			if peer, fresh := s.demux.Peer(addr); !fresh {
				s.demux.Deliver(peer, data)
			}

		case domain.MsgControl:
			s.handleControl(ctx, pkt)

		case domain.MsgControlAck:
			s.handleControlAck(pkt)

		case domain.MsgKeepalive:
			s.handleKeepalive(pkt)

		case domain.MsgFrame:
			s.handleFrame(pkt)
		}
	}
}

func (s *Server) handleDiscovery(ctx context.Context, pkt wire.Packet, addr *net.UDPAddr) {
	var req domain.DiscoveryRequest
	if err := wire.DecodeBody(pkt, &req); err != nil {
		return
	}
	reply, err := s.responder.BuildReply(req)
	if err != nil || reply == nil {
		return
	}
	if err := s.listener.SendTo(ctx, reply, addr); err != nil {
		s.log.WithError(err).Warn("discovery reply send failed")
	}
}

func (s *Server) accept(ctx context.Context, peer *transport.PeerConn, init domain.SessionInitMessage) {
	session, err := s.handshake.Respond(ctx, peer, init)
	if err != nil {
		s.log.WithError(err).Warn("handshake rejected",
			zap.String("peer_addr", peer.Addr().String()),
		)
		s.demux.Remove(peer.Addr())
		return
	}
	if err := s.sessions.Admit(session); err != nil {
		s.demux.Remove(peer.Addr())
		return
	}
	s.mu.Lock()
	s.peers[session.ID] = peer
	s.mu.Unlock()
}

func (s *Server) peerFor(id domain.SessionID) *transport.PeerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

func (s *Server) handleControl(ctx context.Context, pkt wire.Packet) {
	var env domain.ControlEnvelope
	if err := wire.DecodeBody(pkt, &env); err != nil {
		return
	}
	session, err := s.sessions.Lookup(env.SessionID)
	if err != nil {
		return
	}
	peer := s.peerFor(env.SessionID)
	if peer == nil {
		return
	}
	if err := s.control.HandleControl(ctx, session, peer, env); err != nil {
		s.log.WithSession(string(env.SessionID)).Warn("control envelope dropped", zap.Error(err))
	}
}

func (s *Server) handleControlAck(pkt wire.Packet) {
	var ack domain.Acknowledge
	if err := wire.DecodeBody(pkt, &ack); err != nil {
		return
	}
	session, err := s.sessions.Lookup(ack.SessionID)
	if err != nil {
		return
	}
	s.control.HandleAck(session, ack)
}

func (s *Server) handleKeepalive(pkt wire.Packet) {
	var msg domain.KeepaliveMessage
	if err := wire.DecodeBody(pkt, &msg); err != nil {
		return
	}
	session, err := s.sessions.Lookup(msg.SessionID)
	if err != nil {
		return
	}
	s.control.HandleKeepalive(session, msg)
}

func (s *Server) handleFrame(pkt wire.Packet) {
	var env domain.FrameEnvelope
	if err := wire.DecodeBody(pkt, &env); err != nil {
		return
	}
	s.mu.Lock()
	receiver := s.receivers[env.SessionID]
	s.mu.Unlock()
	if receiver == nil {
		return
	}
	if _, err := receiver.Receive(env, utils.NowMicros()); err != nil {
		return
	}
	if out, ok := receiver.Output(utils.NowMicros()); ok && s.sink != nil {
		s.sink(out)
	}
}

func (s *Server) handleSetChannels(_ context.Context, _ *domain.Session, _ domain.ControlOp, payload []byte) error {
	var body domain.SetChannelsPayload
	if err := wire.Unmarshal(payload, &body); err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "decode set_channels")
	}
	if body.Format == domain.ChannelFormatU8 {
		for _, v := range body.Values {
			if v > 0xFF {
				return domain.NewError(domain.ErrCodeUnsupportedChannelMode, "u8 payload carries value above 255")
			}
		}
	}
	if s.sink != nil {
		s.sink(body.Values)
	}
	return nil
}

func (s *Server) handleSetGroups(_ context.Context, _ *domain.Session, _ domain.ControlOp, payload []byte) error {
	var body domain.SetGroupsPayload
	if err := wire.Unmarshal(payload, &body); err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "decode set_groups")
	}
	if s.sink != nil {
		for _, values := range body.Groups {
			s.sink(values)
		}
	}
	return nil
}

func (s *Server) handleIdentify(_ context.Context, session *domain.Session, _ domain.ControlOp, _ []byte) error {
	s.log.WithSession(string(session.ID)).Info("identify requested")
	return nil
}

func (s *Server) handleStreamStart(_ context.Context, session *domain.Session, _ domain.ControlOp, payload []byte) error {
	var body domain.StreamStartPayload
	if err := wire.Unmarshal(payload, &body); err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "decode stream_start")
	}
	profile := domain.StreamProfile{
		Intent:           body.Intent,
		LatencyWeight:    body.LatencyWeight,
		ResilienceWeight: body.ResilienceWeight,
	}
	// Cross-check the sender's config_id against a local compile before
	// binding, so a mismatch leaves the session free for a corrected
	// stream_start.
	if body.ConfigID != "" {
		compiled, err := profile.Compile()
		if err != nil {
			return err
		}
		if compiled.ConfigID != body.ConfigID {
			return domain.NewError(domain.ErrCodeProfileInvalid, "config_id mismatch between endpoints")
		}
	}
	receiver, err := s.streams.AcceptStream(session, profile)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.receivers[session.ID] = receiver
	s.mu.Unlock()
	return nil
}

func (s *Server) handleStreamStop(_ context.Context, session *domain.Session, _ domain.ControlOp, _ []byte) error {
	s.mu.Lock()
	delete(s.receivers, session.ID)
	s.mu.Unlock()
	return nil
}
