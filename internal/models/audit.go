package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorRole   Role       `json:"actor_role"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"` // transaction/dispute/wallet
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewAuditLog(a Actor, action, entityType string, entityID uuid.UUID, meta map[string]any) AuditLog {
	l := AuditLog{ActorRole: a.Role, Action: action, EntityType: entityType, EntityID: &entityID, Meta: meta}
	if a.ID != uuid.Nil {
		id := a.ID
		l.ActorUserID = &id
	}
	return l
}
