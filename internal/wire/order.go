// Package wire translates between internal order parameters and the external
// matching venue's native instruction encoding. It is a pure codec: nothing
// here touches ledger state.
package wire

import (
	"encoding/binary"
	"fmt"

	"margincore/internal/state"
	"margincore/internal/venue"
)

// OrderDescriptorLen is the exact size of the venue's new-order payload.
const OrderDescriptorLen = 46

// EncodeOrderDescriptor packs an order into the venue's fixed 46-byte
// little-endian layout: side (4), limit price (8), max base qty (8), max
// quote qty including fees (8), self-trade behavior (4), order type (4),
// client order id (8), result limit (2).
//
// The enumerated fields fit in one byte but are written as 4-byte values;
// that widening is the venue's native format and must be preserved exactly
// for round-trip compatibility.
func EncodeOrderDescriptor(d venue.OrderDescriptor) []byte {
	buf := make([]byte, 0, OrderDescriptorLen)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.Side))
	buf = binary.LittleEndian.AppendUint64(buf, d.LimitPrice)
	buf = binary.LittleEndian.AppendUint64(buf, d.MaxBaseQty)
	buf = binary.LittleEndian.AppendUint64(buf, d.MaxQuoteQtyIncludingFees)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.SelfTradeBehavior))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.OrderType))
	buf = binary.LittleEndian.AppendUint64(buf, d.ClientOrderID)
	buf = binary.LittleEndian.AppendUint16(buf, d.Limit)
	return buf
}

// DecodeOrderDescriptor unpacks a 46-byte payload. Short payloads, enum
// values outside their domain, and zero prices or quantities are all rejected
// as malformed.
func DecodeOrderDescriptor(data []byte) (venue.OrderDescriptor, error) {
	var d venue.OrderDescriptor
	if len(data) < OrderDescriptorLen {
		return d, fmt.Errorf("%w: order payload is %d bytes, want %d", state.ErrInvalidInput, len(data), OrderDescriptorLen)
	}

	side, err := venue.SideFromUint32(binary.LittleEndian.Uint32(data[0:4]))
	if err != nil {
		return d, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}
	limitPrice := binary.LittleEndian.Uint64(data[4:12])
	if limitPrice == 0 {
		return d, fmt.Errorf("%w: zero limit price", state.ErrInvalidInput)
	}
	maxBase := binary.LittleEndian.Uint64(data[12:20])
	if maxBase == 0 {
		return d, fmt.Errorf("%w: zero max base quantity", state.ErrInvalidInput)
	}
	maxQuote := binary.LittleEndian.Uint64(data[20:28])
	if maxQuote == 0 {
		return d, fmt.Errorf("%w: zero max quote quantity", state.ErrInvalidInput)
	}
	stb, err := venue.SelfTradeBehaviorFromUint32(binary.LittleEndian.Uint32(data[28:32]))
	if err != nil {
		return d, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}
	otype, err := venue.OrderTypeFromUint32(binary.LittleEndian.Uint32(data[32:36]))
	if err != nil {
		return d, fmt.Errorf("%w: %v", state.ErrInvalidInput, err)
	}

	d.Side = side
	d.LimitPrice = limitPrice
	d.MaxBaseQty = maxBase
	d.MaxQuoteQtyIncludingFees = maxQuote
	d.SelfTradeBehavior = stb
	d.OrderType = otype
	d.ClientOrderID = binary.LittleEndian.Uint64(data[36:44])
	d.Limit = binary.LittleEndian.Uint16(data[44:46])
	return d, nil
}
