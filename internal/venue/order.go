package venue

import "fmt"

// Side of an order on the external matching venue.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// SelfTradeBehavior tells the venue what to do when an order would cross the
// same account's resting order.
type SelfTradeBehavior uint8

const (
	SelfTradeDecrementTake SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeAbortTransaction
)

// OrderType on the external venue.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
)

// SideFromUint32 validates a wire-decoded side value.
func SideFromUint32(v uint32) (Side, error) {
	if v > uint32(SideAsk) {
		return 0, fmt.Errorf("side out of range: %d", v)
	}
	return Side(v), nil
}

// SelfTradeBehaviorFromUint32 validates a wire-decoded self-trade value.
func SelfTradeBehaviorFromUint32(v uint32) (SelfTradeBehavior, error) {
	if v > uint32(SelfTradeAbortTransaction) {
		return 0, fmt.Errorf("self-trade behavior out of range: %d", v)
	}
	return SelfTradeBehavior(v), nil
}

// OrderTypeFromUint32 validates a wire-decoded order type.
func OrderTypeFromUint32(v uint32) (OrderType, error) {
	if v > uint32(OrderTypePostOnly) {
		return 0, fmt.Errorf("order type out of range: %d", v)
	}
	return OrderType(v), nil
}

// OrderDescriptor is the full order the core hands to the matching venue.
// LimitPrice, MaxBaseQty and MaxQuoteQtyIncludingFees are round-tripped as
// non-zero values; a zero in any of them is malformed.
type OrderDescriptor struct {
	Side                     Side
	LimitPrice               uint64
	MaxBaseQty               uint64
	MaxQuoteQtyIncludingFees uint64
	SelfTradeBehavior        SelfTradeBehavior
	OrderType                OrderType
	ClientOrderID            uint64
	Limit                    uint16
}
