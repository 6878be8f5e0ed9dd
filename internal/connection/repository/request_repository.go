package repository

import (
	"context"
	"errors"
	"time"

	"community_chat_service/internal/connection/domain"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// schema 同一對使用者 (不分方向) 只能有一筆 pending
const schema = `
CREATE TABLE IF NOT EXISTS connection_requests (
	id           VARCHAR(64) PRIMARY KEY,
	from_user_id VARCHAR(64) NOT NULL,
	to_user_id   VARCHAR(64) NOT NULL,
	status       VARCHAR(16) NOT NULL DEFAULT 'pending',
	room_id      VARCHAR(64) NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS connection_requests_pending_pair
	ON connection_requests (LEAST(from_user_id, to_user_id), GREATEST(from_user_id, to_user_id))
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS connection_requests_to_status
	ON connection_requests (to_user_id, status);
`

const uniqueViolation = "23505"

// RequestRepository definition connection request store
type RequestRepository interface {
	EnsureSchema(ctx context.Context) error
	// Create 兩人已有 pending 時回傳 domain.ErrAlreadyPending
	Create(ctx context.Context, req *domain.ConnectionRequest) error
	FindByID(ctx context.Context, id string) (*domain.ConnectionRequest, error)
	// FindPendingBetween 不分方向
	FindPendingBetween(ctx context.Context, a, b string) (*domain.ConnectionRequest, error)
	ListPending(ctx context.Context, toUserID string) ([]domain.ConnectionRequest, error)
	// UpdateStatus 只更新仍為 pending 的 request, 否則回傳 domain.ErrRequestClosed
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, roomID string, at time.Time) error
}

type requestRepository struct {
	db *pgxpool.Pool
}

// NewRequestRepository create a RequestRepository
func NewRequestRepository(db *pgxpool.Pool) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *requestRepository) Create(ctx context.Context, req *domain.ConnectionRequest) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO connection_requests(id, from_user_id, to_user_id, status, room_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		req.ID, req.FromUserID, req.ToUserID, string(req.Status), req.RoomID, req.CreatedAt, req.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyPending
	}
	return err
}

const selectColumns = "SELECT id, from_user_id, to_user_id, status, room_id, created_at, updated_at FROM connection_requests"

func scanRequest(row pgx.Row) (*domain.ConnectionRequest, error) {
	var req domain.ConnectionRequest
	var status string
	err := row.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &status, &req.RoomID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	req.Status = domain.RequestStatus(status)
	return &req, nil
}

func (r *requestRepository) FindByID(ctx context.Context, id string) (*domain.ConnectionRequest, error) {
	return scanRequest(r.db.QueryRow(ctx, selectColumns+" WHERE id = $1", id))
}

func (r *requestRepository) FindPendingBetween(ctx context.Context, a, b string) (*domain.ConnectionRequest, error) {
	return scanRequest(r.db.QueryRow(ctx,
		selectColumns+" WHERE status = 'pending' AND ((from_user_id = $1 AND to_user_id = $2) OR (from_user_id = $2 AND to_user_id = $1)) LIMIT 1",
		a, b))
}

func (r *requestRepository) ListPending(ctx context.Context, toUserID string) ([]domain.ConnectionRequest, error) {
	rows, err := r.db.Query(ctx, selectColumns+" WHERE to_user_id = $1 AND status = 'pending' ORDER BY created_at ASC", toUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.ConnectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *req)
	}
	return list, rows.Err()
}

func (r *requestRepository) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, roomID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE connection_requests SET status = $1, room_id = $2, updated_at = $3 WHERE id = $4 AND status = 'pending'",
		string(status), roomID, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrRequestClosed
	}
	return nil
}
