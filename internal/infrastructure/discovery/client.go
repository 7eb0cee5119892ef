package discovery

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/wire"
)

// Client broadcasts discovery requests and collects validated replies.
// Every outstanding request carries a fresh single-use nonce; replies
// that echo the wrong nonce, reuse a reply nonce, or fail signature
// verification are dropped without failing the collection.
type Client struct {
	caps domain.CapabilitySet
	log  *logger.ContextLogger
}

// NewClient creates a discovery client advertising the given wanted
// capabilities.
func NewClient(caps domain.CapabilitySet, log *logger.ContextLogger) *Client {
	return &Client{caps: caps, log: log}
}

// capability names requested from peers, flattened for the request
func capabilityNames(caps domain.CapabilitySet) []string {
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	return names
}

// Discover broadcasts one request and gathers replies for the given
// window. Each device appears at most once; later duplicates are
// ignored. An empty result is not an error, it just means nobody
// answered in time.
func (c *Client) Discover(ctx context.Context, transport ports.PacketTransport, window time.Duration) ([]domain.DiscoveryReply, error) {
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	packet, err := wire.EncodePacket(domain.MsgDiscoveryRequest, domain.DiscoveryRequest{
		Nonce:        nonce,
		Capabilities: capabilityNames(c.caps),
	})
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ctx, packet); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var found []domain.DiscoveryReply
	seenDevices := make(map[domain.DeviceID]struct{})
	seenReplyNonces := make(map[string]struct{})
	for {
		data, err := transport.Recv(ctx)
		if err != nil {
			// Window expiry ends collection normally.
			if ctx.Err() != nil {
				return found, nil
			}
			return found, err
		}
		pkt, err := wire.DecodePacket(data)
		if err != nil || pkt.Type != domain.MsgDiscoveryReply {
			continue
		}
		var reply domain.DiscoveryReply
		if err := wire.DecodeBody(pkt, &reply); err != nil {
			continue
		}
		if err := c.validate(reply, nonce, seenReplyNonces); err != nil {
			c.log.WithError(err).Warn("discovery reply dropped",
				zap.String("device", string(reply.Identity.DeviceID)),
			)
			continue
		}
		if _, dup := seenDevices[reply.Identity.DeviceID]; dup {
			continue
		}
		seenDevices[reply.Identity.DeviceID] = struct{}{}
		seenReplyNonces[hex.EncodeToString(reply.ReplyNonce)] = struct{}{}
		found = append(found, reply)
	}
}

func (c *Client) validate(reply domain.DiscoveryReply, requestNonce []byte, seenReplyNonces map[string]struct{}) error {
	if !bytes.Equal(reply.RequestNonce, requestNonce) {
		return domain.NewError(domain.ErrCodeNonceReplayed, "reply echoes an unknown request nonce")
	}
	if len(reply.ReplyNonce) == 0 {
		return domain.NewError(domain.ErrCodeMalformedMessage, "reply nonce missing")
	}
	if _, seen := seenReplyNonces[hex.EncodeToString(reply.ReplyNonce)]; seen {
		return domain.NewError(domain.ErrCodeNonceReplayed, "reply nonce reused")
	}
	if !reply.Signed {
		return nil
	}
	signedBytes, err := wire.Marshal(domain.DiscoveryReplySigned{
		Identity:     reply.Identity,
		Capabilities: reply.Capabilities,
		RequestNonce: reply.RequestNonce,
		ReplyNonce:   reply.ReplyNonce,
	})
	if err != nil {
		return domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode reply for verification")
	}
	if !crypto.Verify(reply.Identity.PublicKey, signedBytes, reply.Signature) {
		return domain.NewError(domain.ErrCodeSignatureInvalid, "discovery reply signature rejected")
	}
	return nil
}
