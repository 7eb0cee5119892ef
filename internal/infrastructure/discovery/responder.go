// Package discovery implements device discovery: broadcast requests with
// single-use nonces and signed replies that bind identity, capabilities,
// and both nonces together.
package discovery

import (
	"golang.org/x/time/rate"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/pkg/wire"
)

// Responder answers discovery requests for the local device. Replies
// are rate limited so a discovery storm cannot be amplified into a
// signing storm.
type Responder struct {
	creds   *crypto.Credentials
	caps    domain.CapabilitySet
	limiter *rate.Limiter
}

// NewResponder creates a discovery responder. repliesPerSecond and burst
// bound the reply rate across all requesters.
func NewResponder(creds *crypto.Credentials, caps domain.CapabilitySet, repliesPerSecond float64, burst int) *Responder {
	return &Responder{
		creds:   creds,
		caps:    caps,
		limiter: rate.NewLimiter(rate.Limit(repliesPerSecond), burst),
	}
}

// BuildReply produces a signed reply for one request, or (nil, nil) when
// the rate limiter suppresses it. Suppression is silent; discovery is
// best-effort by design.
func (r *Responder) BuildReply(req domain.DiscoveryRequest) ([]byte, error) {
	if !r.limiter.Allow() {
		return nil, nil
	}
	replyNonce, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	signed := domain.DiscoveryReplySigned{
		Identity:     r.creds.Identity,
		Capabilities: r.caps,
		RequestNonce: req.Nonce,
		ReplyNonce:   replyNonce,
	}
	signedBytes, err := wire.Marshal(signed)
	if err != nil {
		return nil, domain.WrapError(err, domain.ErrCodeMalformedMessage, "encode discovery reply")
	}
	return wire.EncodePacket(domain.MsgDiscoveryReply, domain.DiscoveryReply{
		Identity:     r.creds.Identity,
		Capabilities: r.caps,
		RequestNonce: req.Nonce,
		ReplyNonce:   replyNonce,
		Signed:       true,
		Signature:    r.creds.Sign(signedBytes),
	})
}
