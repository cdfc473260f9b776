package models

import "github.com/google/uuid"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Party is the relation of an actor to one transaction or dispute.
type Party int

const (
	PartyNone Party = iota
	PartyCustomer
	PartySeller
	PartyAdmin
	PartySystem
)

func (p Party) String() string {
	switch p {
	case PartyCustomer:
		return "customer"
	case PartySeller:
		return "seller"
	case PartyAdmin:
		return "admin"
	case PartySystem:
		return "system"
	default:
		return "none"
	}
}

// IsParticipant reports whether p is one of the two trading sides.
func (p Party) IsParticipant() bool {
	return p == PartyCustomer || p == PartySeller
}

// resolveParty maps an actor onto the customer/seller pair once.
// An admin acts as the seller of admin-operated listings.
func resolveParty(a Actor, customerID, sellerID uuid.UUID, sellerType SellerType) Party {
	switch {
	case a.Role == RoleSystem:
		return PartySystem
	case a.ID == customerID && a.ID != uuid.Nil:
		return PartyCustomer
	case a.ID == sellerID && a.ID != uuid.Nil:
		return PartySeller
	case a.Role == RoleAdmin && sellerType == SellerTypeAdmin:
		return PartySeller
	case a.Role == RoleAdmin:
		return PartyAdmin
	}
	return PartyNone
}
