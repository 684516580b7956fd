package services

import (
	"github.com/google/uuid"

	"github.com/mmomarket/settlement/internal/models"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// Capability is what an actor may do to a given complaint.
type Capability uint8

const (
	CapBuyer Capability = 1 << iota
	CapSeller
	CapAdmin
)

// capabilitiesOf derives the actor's capabilities from the complaint parties
// and the actor's role. Zero means the actor is unrelated to the complaint.
func capabilitiesOf(a Actor, c *models.Complaint) Capability {
	var caps Capability
	if a.UserID == c.BuyerID {
		caps |= CapBuyer
	}
	if a.UserID == c.SellerID {
		caps |= CapSeller
	}
	if a.IsAdmin() {
		caps |= CapAdmin
	}
	return caps
}
