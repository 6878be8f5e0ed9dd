//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"community_chat_service/internal/connection/domain"
	"community_chat_service/pkg/database"
	"community_chat_service/pkg/logger"
	testtool "community_chat_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testRepo RequestRepository

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "connection_db",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		fmt.Println("start postgres:", err)
		os.Exit(1)
	}

	pool, err := database.NewDatabaseConnection(database.Connection{
		ConnectStr:    fmt.Sprintf("postgres://test:test@%s:%s/connection_db?sslmode=disable", host, port),
		RetryCount:    5,
		RetryInterval: time.Second,
	})
	if err != nil {
		fmt.Println("connect postgres:", err)
		os.Exit(1)
	}
	testRepo = NewRequestRepository(pool)
	if err := testRepo.EnsureSchema(ctx); err != nil {
		fmt.Println("ensure schema:", err)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newRequest(id, from, to string) *domain.ConnectionRequest {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.ConnectionRequest{ID: id, FromUserID: from, ToUserID: to, Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now}
}

// 同一對使用者不分方向只能有一筆 pending
func TestRequestRepository_PendingUnique(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testRepo.Create(ctx, newRequest("r1", "alice", "bob")))
	assert.ErrorIs(t, testRepo.Create(ctx, newRequest("r2", "bob", "alice")), domain.ErrAlreadyPending)

	found, err := testRepo.FindPendingBetween(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)

	require.NoError(t, testRepo.UpdateStatus(ctx, "r1", domain.StatusRejected, "", time.Now()))
	require.NoError(t, testRepo.Create(ctx, newRequest("r3", "bob", "alice")))
}

func TestRequestRepository_AcceptAndList(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testRepo.Create(ctx, newRequest("a1", "carol", "dave")))
	require.NoError(t, testRepo.Create(ctx, newRequest("a2", "erin", "dave")))

	pending, err := testRepo.ListPending(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, testRepo.UpdateStatus(ctx, "a1", domain.StatusAccepted, "room-1", time.Now()))
	assert.ErrorIs(t, testRepo.UpdateStatus(ctx, "a1", domain.StatusRejected, "", time.Now()), domain.ErrRequestClosed)
	assert.ErrorIs(t, testRepo.UpdateStatus(ctx, "missing", domain.StatusRejected, "", time.Now()), domain.ErrRequestNotFound)

	got, err := testRepo.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	assert.Equal(t, "room-1", got.RoomID)

	pending, err = testRepo.ListPending(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].ID)
}
