package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"margincore/internal/venue"
)

const (
	placeOrderSubject  = "margin.venue.orders.place"
	cancelOrderSubject = "margin.venue.orders.cancel"

	signingContextLen = 48
	statusAccepted    = 0
)

// NATSVenue talks to the external matching venue over NATS request/reply.
// Requests carry the venue's native binary framing: the 48-byte signing
// context (group, account, authority) followed by the operation payload.
// The first reply byte is the status; anything after a non-zero status is a
// human-readable reason.
type NATSVenue struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSVenue(nc *nats.Conn, timeout time.Duration) *NATSVenue {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NATSVenue{nc: nc, timeout: timeout}
}

func appendSigning(buf []byte, signing venue.SigningContext) []byte {
	buf = append(buf, signing.Group[:]...)
	buf = append(buf, signing.Account[:]...)
	buf = append(buf, signing.Authority[:]...)
	return buf
}

// PlaceOrder submits an order and waits for the venue's verdict.
func (v *NATSVenue) PlaceOrder(ctx context.Context, signing venue.SigningContext, order venue.OrderDescriptor) error {
	payload := make([]byte, 0, signingContextLen+OrderDescriptorLen)
	payload = appendSigning(payload, signing)
	payload = append(payload, EncodeOrderDescriptor(order)...)

	return v.request(ctx, placeOrderSubject, payload)
}

// CancelOrder requests cancellation by client order id.
func (v *NATSVenue) CancelOrder(ctx context.Context, signing venue.SigningContext, clientOrderID uint64) error {
	payload := make([]byte, 0, signingContextLen+8)
	payload = appendSigning(payload, signing)
	payload = binary.LittleEndian.AppendUint64(payload, clientOrderID)

	return v.request(ctx, cancelOrderSubject, payload)
}

func (v *NATSVenue) request(ctx context.Context, subject string, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	msg, err := v.nc.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrVenueRejected, err)
	}
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: empty reply", venue.ErrVenueRejected)
	}
	if msg.Data[0] != statusAccepted {
		return fmt.Errorf("%w: %s", venue.ErrVenueRejected, string(msg.Data[1:]))
	}
	return nil
}
