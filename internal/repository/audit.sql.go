package repository

import (
	"context"

	"github.com/google/uuid"
)

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING id
`

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    uuid.NullUUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	).Scan(&id)
	return id, err
}

const countAuditLog = `
SELECT COUNT(*) FROM audit_log WHERE entity_type = $1 AND entity_id = $2
`

func (q *Queries) CountAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countAuditLog, entityType, entityID).Scan(&n)
	return n, err
}
