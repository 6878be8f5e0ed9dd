//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"community_chat_service/internal/notification/domain"
	"community_chat_service/pkg/database"
	"community_chat_service/pkg/logger"
	testtool "community_chat_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

var (
	testDB   *gorm.DB
	testRepo NotificationRepository
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "notification_db",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		fmt.Println("start postgres:", err)
		os.Exit(1)
	}

	db, err := database.NewPGConnection(database.Connection{
		ConnectStr:    fmt.Sprintf("host=%s port=%s user=test password=test dbname=notification_db sslmode=disable", host, port),
		RetryCount:    5,
		RetryInterval: time.Second,
	})
	if err != nil {
		fmt.Println("connect postgres:", err)
		os.Exit(1)
	}
	testDB = db
	testRepo = NewNotificationRepo(db)
	if err := testRepo.AutoMigrate(); err != nil {
		fmt.Println("migrate:", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestNotificationRepo_DedupKey(t *testing.T) {
	ctx := context.Background()
	key := "msg:m1:bob"

	first := &domain.Notification{Type: domain.TypeNewMessage, TargetUserID: "bob", Title: "New message", DedupKey: &key, IsActive: true}
	require.NoError(t, testRepo.Create(ctx, first))
	assert.NotZero(t, first.ID)

	k := key
	second := &domain.Notification{Type: domain.TypeNewMessage, TargetUserID: "bob", Title: "New message", DedupKey: &k, IsActive: true}
	assert.ErrorIs(t, testRepo.Create(ctx, second), domain.ErrDuplicateKey)

	found, err := testRepo.FindByDedupKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = testRepo.FindByDedupKey(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

// 沒有 dedup key 的通知可以重複
func TestNotificationRepo_ListFor(t *testing.T) {
	ctx := context.Background()

	mine := &domain.Notification{Type: domain.TypeNewRequest, TargetUserID: "carol", Title: "req", IsActive: true}
	other := &domain.Notification{Type: domain.TypeNewRequest, TargetUserID: "dave", Title: "req", IsActive: true}
	all := &domain.Notification{Type: domain.TypeAdminBroadcast, Title: "公告", IsActive: true}
	retracted := &domain.Notification{Type: domain.TypeAdminBroadcast, Title: "撤回", IsActive: true}
	for _, n := range []*domain.Notification{mine, other, all, retracted} {
		require.NoError(t, testRepo.Create(ctx, n))
	}
	require.NoError(t, testRepo.Deactivate(ctx, retracted.ID))
	assert.ErrorIs(t, testRepo.Deactivate(ctx, 999999), domain.ErrNotificationNotFound)

	list, err := testRepo.ListFor(ctx, "carol", mine.ID-1, 50)
	require.NoError(t, err)

	ids := make([]uint64, 0, len(list))
	for _, n := range list {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []uint64{mine.ID, all.ID}, ids)

	list, err = testRepo.ListFor(ctx, "carol", mine.ID, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, all.ID, list[0].ID)
}

// 較小的 id 還沒 commit 前, 較大的 id 不會先出現在 backlog
func TestNotificationRepo_IDsCommitInOrder(t *testing.T) {
	ctx := context.Background()

	anchor := &domain.Notification{Type: domain.TypeNewRequest, TargetUserID: "erin", Title: "anchor", IsActive: true}
	require.NoError(t, testRepo.Create(ctx, anchor))

	// 另一個 node 拿到 id 但還沒 commit
	tx := testDB.WithContext(ctx).Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, tx.Exec("SELECT pg_advisory_xact_lock(?)", insertLockKey).Error)
	slow := &domain.Notification{Type: domain.TypeNewRequest, TargetUserID: "erin", Title: "slow", IsActive: true}
	require.NoError(t, tx.Create(slow).Error)

	done := make(chan error, 1)
	fast := &domain.Notification{Type: domain.TypeNewRequest, TargetUserID: "erin", Title: "fast", IsActive: true}
	go func() { done <- testRepo.Create(ctx, fast) }()

	assert.Never(t, func() bool {
		list, err := testRepo.ListFor(ctx, "erin", anchor.ID, 50)
		return err != nil || len(list) > 0
	}, 300*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, tx.Commit().Error)
	require.NoError(t, <-done)

	list, err := testRepo.ListFor(ctx, "erin", anchor.ID, 50)
	require.NoError(t, err)
	ids := make([]uint64, 0, len(list))
	for _, n := range list {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []uint64{slow.ID, fast.ID}, ids)
}
