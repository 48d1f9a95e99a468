package state

import "github.com/google/uuid"

// Group is the administrative root of one deployment. It is created once and
// effectively immutable afterwards; admin rotation happens out of band.
type Group struct {
	ID    uuid.UUID
	Admin uuid.UUID

	// AccountCapacity is the position-slot capacity given to new accounts.
	AccountCapacity int

	CreatedAtUs int64
}
