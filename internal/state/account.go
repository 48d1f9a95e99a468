package state

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"margincore/internal/fixedpoint"
)

// TokenPosition is one account's stake in one bank: a signed scaled-balance
// amount (positive = deposit, negative = borrow) and an active flag. Slots
// are never removed, only deactivated and reused.
type TokenPosition struct {
	TokenIndex TokenIndex
	Active     bool
	// Amount is in the bank's scaled units, not native token units.
	Amount fixedpoint.Num
}

const (
	accountHeaderLen   = 16 + 16 + 16 + 1 + 1 + 2
	positionRecordLen  = 2 + 1 + 1 + fixedpoint.ByteLen
)

// AccountRecordLen returns the exact marshalled size of an account with the
// given slot capacity.
func AccountRecordLen(capacity int) int {
	return accountHeaderLen + capacity*positionRecordLen
}

// Account owns a bounded set of token position slots. Capacity is fixed at
// creation; the ledger claims and releases slots by toggling the active flag
// and never resizes.
type Account struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	Group    uuid.UUID
	Delegate uuid.UUID
	Bankrupt bool

	positions []TokenPosition
}

// NewAccount creates an account with capacity position slots, all inactive.
func NewAccount(id, owner, group uuid.UUID, capacity int) (*Account, error) {
	if capacity <= 0 || capacity > int(^uint16(0)) {
		return nil, fmt.Errorf("%w: invalid position capacity %d", ErrInvalidInput, capacity)
	}
	return &Account{
		ID:        id,
		Owner:     owner,
		Group:     group,
		positions: make([]TokenPosition, capacity),
	}, nil
}

// Capacity returns the fixed number of position slots.
func (a *Account) Capacity() int { return len(a.positions) }

// GetOrCreate returns the active position for tokenIndex, claiming and
// initialising the first inactive slot when none exists. The returned slot
// index is a stable handle for the operation's duration. Fails with
// ErrPositionLimitExceeded when every slot is active with other tokens.
func (a *Account) GetOrCreate(tokenIndex TokenIndex) (*TokenPosition, int, error) {
	free := -1
	for i := range a.positions {
		p := &a.positions[i]
		if p.Active && p.TokenIndex == tokenIndex {
			return p, i, nil
		}
		if !p.Active && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return nil, 0, fmt.Errorf("%w: all %d slots active", ErrPositionLimitExceeded, len(a.positions))
	}
	a.positions[free] = TokenPosition{
		TokenIndex: tokenIndex,
		Active:     true,
		Amount:     fixedpoint.Zero(),
	}
	return &a.positions[free], free, nil
}

// Get returns the active position for tokenIndex, or nil.
func (a *Account) Get(tokenIndex TokenIndex) *TokenPosition {
	for i := range a.positions {
		p := &a.positions[i]
		if p.Active && p.TokenIndex == tokenIndex {
			return p
		}
	}
	return nil
}

// Position returns the slot at index.
func (a *Account) Position(slot int) *TokenPosition {
	return &a.positions[slot]
}

// Deactivate marks the slot inactive. The caller must already have verified
// the amount is exactly zero and that every health check needing this slot
// has run; the ledger does not re-check either.
func (a *Account) Deactivate(slot int) {
	a.positions[slot].Active = false
}

// Active returns the active positions in slot order.
func (a *Account) Active() []*TokenPosition {
	out := make([]*TokenPosition, 0, len(a.positions))
	for i := range a.positions {
		if a.positions[i].Active {
			out = append(out, &a.positions[i])
		}
	}
	return out
}

// CheckSlotInvariants verifies active token-index uniqueness and that no
// inactive slot carries a balance. Run after every committed operation.
func (a *Account) CheckSlotInvariants() error {
	seen := make(map[TokenIndex]bool, len(a.positions))
	for i := range a.positions {
		p := &a.positions[i]
		if !p.Active {
			continue
		}
		if seen[p.TokenIndex] {
			return fmt.Errorf("duplicate active position for token %d", p.TokenIndex)
		}
		seen[p.TokenIndex] = true
	}
	return nil
}

// Clone returns a deep copy for staged mutation.
func (a *Account) Clone() *Account {
	dup := *a
	dup.positions = make([]TokenPosition, len(a.positions))
	copy(dup.positions, a.positions)
	return &dup
}

// MarshalBinary encodes the fixed persisted layout: owner, group and
// delegate (16 bytes each), bankruptcy flag, one reserved byte, slot
// capacity (u16 LE), then one 20-byte record per slot: token index (u16 LE),
// active flag, one reserved byte, amount (16-byte fixed point). The account
// id is the storage key, not part of the record.
func (a *Account) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, AccountRecordLen(len(a.positions)))
	buf = append(buf, a.Owner[:]...)
	buf = append(buf, a.Group[:]...)
	buf = append(buf, a.Delegate[:]...)
	if a.Bankrupt {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, 0) // reserved
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(a.positions)))
	for i := range a.positions {
		p := &a.positions[i]
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.TokenIndex))
		if p.Active {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, 0) // reserved
		buf = p.Amount.AppendBinary(buf)
	}
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) < accountHeaderLen {
		return fmt.Errorf("%w: account record is %d bytes", ErrInvalidInput, len(data))
	}
	copy(a.Owner[:], data[0:16])
	copy(a.Group[:], data[16:32])
	copy(a.Delegate[:], data[32:48])
	a.Bankrupt = data[48] == 1
	capacity := int(binary.LittleEndian.Uint16(data[50:52]))
	if len(data) != AccountRecordLen(capacity) {
		return fmt.Errorf("%w: account record is %d bytes, want %d", ErrInvalidInput, len(data), AccountRecordLen(capacity))
	}
	a.positions = make([]TokenPosition, capacity)
	off := accountHeaderLen
	for i := 0; i < capacity; i++ {
		p := &a.positions[i]
		p.TokenIndex = TokenIndex(binary.LittleEndian.Uint16(data[off : off+2]))
		p.Active = data[off+2] == 1
		amt, err := fixedpoint.FromBinary(data[off+4 : off+4+fixedpoint.ByteLen])
		if err != nil {
			return err
		}
		p.Amount = amt
		off += positionRecordLen
	}
	return nil
}
