// Package authz holds the role/ownership rule table consulted by services
// before they mutate or expose bookings and events.
package authz

import (
	"errors"

	"github.com/kirinyoku/eventbook/internal/domain"
)

var ErrDenied = errors.New("authorization denied")

type Action string

const (
	BookingCancel Action = "booking.cancel"
	BookingRead   Action = "booking.read"
	EventCreate   Action = "event.create"
	EventUpdate   Action = "event.update"
	EventDelete   Action = "event.delete"
)

// Resource describes what an action targets. OwnerID is the user that owns
// the resource itself (a booking's customer, an event's manager). EventOwnerID
// is set for bookings and names the manager of the booked event.
type Resource struct {
	OwnerID      int64
	EventOwnerID int64
}

// Scope says who a role may act for.
type Scope int

const (
	None Scope = iota
	Own
	OwnEvent
	Any
)

var rules = map[Action]map[domain.Role]Scope{
	BookingCancel: {
		domain.RoleAdmin:        Any,
		domain.RoleCustomer:     Own,
		domain.RoleEventManager: None,
	},
	BookingRead: {
		domain.RoleAdmin:        Any,
		domain.RoleCustomer:     Own,
		domain.RoleEventManager: OwnEvent,
	},
	EventCreate: {
		domain.RoleAdmin:        Any,
		domain.RoleEventManager: Any,
	},
	EventUpdate: {
		domain.RoleAdmin:        Any,
		domain.RoleEventManager: Own,
	},
	EventDelete: {
		domain.RoleAdmin:        Any,
		domain.RoleEventManager: Own,
	},
}

// Allowed reports whether p may perform action on res.
func Allowed(p domain.Principal, action Action, res Resource) bool {
	switch rules[action][p.Role] {
	case Any:
		return true
	case Own:
		return p.UserID != 0 && res.OwnerID == p.UserID
	case OwnEvent:
		return p.UserID != 0 && res.EventOwnerID == p.UserID
	default:
		return false
	}
}

// Check is Allowed returning ErrDenied.
func Check(p domain.Principal, action Action, res Resource) error {
	if !Allowed(p, action, res) {
		return ErrDenied
	}
	return nil
}
