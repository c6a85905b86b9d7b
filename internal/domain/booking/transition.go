package booking

import (
	"strings"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/pkg/apperror"
)

type Transition string

const (
	TransitionAccept   Transition = "ACCEPT"
	TransitionReject   Transition = "REJECT"
	TransitionConfirm  Transition = "CONFIRM"
	TransitionComplete Transition = "COMPLETE"
	TransitionCancel   Transition = "CANCEL"
)

// ParseTransition accepts a transition name in any case.
func ParseTransition(s string) (Transition, error) {
	t := Transition(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rules[t]; !ok {
		return "", apperror.Validation("unknown transition %q", s)
	}
	return t, nil
}

// Role is the side of the marketplace requesting a transition.
type Role string

const (
	RolePatient  Role = "PATIENT"
	RoleProvider Role = "PROVIDER"
	RoleSystem   Role = "SYSTEM"
)

// Actor is the caller of a booking operation. SYSTEM actors carry no id.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// System is the actor used by background jobs and payment reconciliation.
var System = Actor{Role: RoleSystem}

type rule struct {
	from  []Status
	to    Status
	roles []Role
	flow  catalog.Flow // empty means any flow
}

var rules = map[Transition]rule{
	TransitionAccept: {
		from:  []Status{StatusPending},
		to:    StatusAccepted,
		roles: []Role{RoleProvider},
		flow:  catalog.FlowAcceptance,
	},
	TransitionReject: {
		from:  []Status{StatusPending},
		to:    StatusRejected,
		roles: []Role{RoleProvider},
		flow:  catalog.FlowAcceptance,
	},
	TransitionConfirm: {
		from:  []Status{StatusPending},
		to:    StatusConfirmed,
		roles: []Role{RoleSystem},
		flow:  catalog.FlowPayment,
	},
	TransitionComplete: {
		from:  []Status{StatusAccepted, StatusConfirmed},
		to:    StatusCompleted,
		roles: []Role{RoleProvider, RoleSystem},
	},
	TransitionCancel: {
		from:  []Status{StatusPending, StatusAccepted, StatusConfirmed},
		to:    StatusCancelled,
		roles: []Role{RolePatient, RoleSystem},
	},
}

// Next is the booking state machine. It returns the status reached by
// applying t to a booking of the given flow in status current, requested by
// role, or an InvalidTransition error.
func Next(flow catalog.Flow, current Status, t Transition, role Role) (Status, error) {
	r, ok := rules[t]
	if !ok {
		return "", apperror.InvalidTransition("unknown transition %q", t)
	}
	if r.flow != "" && r.flow != flow {
		return "", apperror.InvalidTransition("%s is not available for %s bookings", t, strings.ToLower(string(flow)))
	}
	if !hasStatus(r.from, current) {
		return "", apperror.InvalidTransition("cannot %s a %s booking", strings.ToLower(string(t)), current)
	}
	if !hasRole(r.roles, role) {
		return "", apperror.InvalidTransition("%s may not %s a booking", strings.ToLower(string(role)), strings.ToLower(string(t)))
	}
	return r.to, nil
}

func hasStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasRole(list []Role, r Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

// authorize checks that actor is a party to b.
func authorize(b *Booking, actor Actor) error {
	switch actor.Role {
	case RoleSystem:
		return nil
	case RolePatient:
		if actor.ID == b.PatientID {
			return nil
		}
	case RoleProvider:
		if actor.ID == b.ProviderID {
			return nil
		}
	}
	return apperror.Forbidden("booking %s does not belong to this %s", b.ID, strings.ToLower(string(actor.Role)))
}
