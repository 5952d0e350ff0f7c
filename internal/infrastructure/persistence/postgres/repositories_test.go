package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entity.Tenant{}, &entity.TenantSchema{}, &entity.ActivityRecord{}))
	return NewClientFromDB(db)
}

func TestTenantRepositoryCRUD(t *testing.T) {
	client := newTestClient(t)
	repo := NewTenantRepository(client)
	ctx := context.Background()

	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	tenant.APIKey = "rok_crud_key"
	require.NoError(t, repo.Create(ctx, tenant))

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "golden-wok", got.Slug)

	bySlug, err := repo.GetBySlug(ctx, "golden-wok")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, tenant.ID, bySlug.ID)

	// 不存在时返回 nil 而不是错误
	missing, err := repo.GetByID(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := repo.ExistsBySlug(ctx, "golden-wok")
	require.NoError(t, err)
	assert.True(t, exists)

	got.Name = "Golden Wok & Grill"
	require.NoError(t, repo.Update(ctx, got))
	updated, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Golden Wok & Grill", updated.Name)

	require.NoError(t, repo.UpdateStatus(ctx, tenant.ID, entity.TenantStatusTerminated))
	terminated, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TenantStatusTerminated, terminated.Status)

	require.NoError(t, repo.Delete(ctx, tenant.ID))
	gone, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTenantRepositoryListFilters(t *testing.T) {
	client := newTestClient(t)
	repo := NewTenantRepository(client)
	ctx := context.Background()

	shared := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	schema := entity.NewTenant("Sushi Bar", "sushi-bar", entity.StrategyDedicatedSchema)
	closed := entity.NewTenant("Closed Diner", "closed-diner", entity.StrategySharedStorage)
	closed.Status = entity.TenantStatusTerminated
	for i, tenant := range []*entity.Tenant{shared, schema, closed} {
		tenant.APIKey = fmt.Sprintf("rok_list_key_%d", i)
		require.NoError(t, repo.Create(ctx, tenant))
	}

	all, err := repo.List(ctx, repository.TenantFilter{}, repository.NewPagination(1, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)

	active, err := repo.List(ctx,
		repository.TenantFilter{Status: entity.TenantStatusActive},
		repository.NewPagination(1, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 2, active.Total)

	dedicated, err := repo.List(ctx,
		repository.TenantFilter{Strategy: entity.StrategyDedicatedSchema},
		repository.NewPagination(1, 10))
	require.NoError(t, err)
	require.EqualValues(t, 1, dedicated.Total)
	assert.Equal(t, "sushi-bar", dedicated.Items[0].Slug)

	paged, err := repo.List(ctx, repository.TenantFilter{}, repository.NewPagination(2, 2))
	require.NoError(t, err)
	assert.Len(t, paged.Items, 1)
	assert.Equal(t, 2, paged.TotalPages)
}

func TestSchemaMappingRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewSchemaMappingRepository(client)
	ctx := context.Background()

	mapping := &entity.TenantSchema{
		TenantID:   "tenant-a",
		SchemaName: "tenant_golden_wok",
		Active:     true,
	}
	require.NoError(t, repo.Create(ctx, mapping))

	// tenant_id 唯一索引挡住重复供给
	dup := &entity.TenantSchema{TenantID: "tenant-a", SchemaName: "tenant_other", Active: true}
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "unique")

	got, err := repo.GetByTenantID(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tenant_golden_wok", got.SchemaName)

	missing, err := repo.GetByTenantID(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Deactivate(ctx, "tenant-a"))
	deactivated, err := repo.GetByTenantID(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, deactivated, "停用保留映射行")
	assert.False(t, deactivated.Active)
}

func TestActivityRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewActivityRepository(client)
	ctx := context.Background()
	now := time.Now()

	for i, at := range []string{
		entity.ActivityTenantCreated,
		entity.ActivityKeyRotated,
		entity.ActivityKeyRotated,
	} {
		require.NoError(t, repo.Create(ctx, &entity.ActivityRecord{
			TenantID:     "tenant-a",
			ActivityType: at,
			Payload:      "{}",
			CreatedAt:    now.Add(time.Duration(i) * time.Minute),
		}))
	}
	// 其他租户与窗口外的记录不应出现在结果中
	require.NoError(t, repo.Create(ctx, &entity.ActivityRecord{
		TenantID:     "tenant-b",
		ActivityType: entity.ActivityTenantCreated,
		CreatedAt:    now,
	}))
	require.NoError(t, repo.Create(ctx, &entity.ActivityRecord{
		TenantID:     "tenant-a",
		ActivityType: entity.ActivityTenantUpdated,
		CreatedAt:    now.Add(-48 * time.Hour),
	}))

	since := now.Add(-24 * time.Hour)

	counts, err := repo.CountByType(ctx, "tenant-a", since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[entity.ActivityTenantCreated])
	assert.EqualValues(t, 2, counts[entity.ActivityKeyRotated])
	assert.NotContains(t, counts, entity.ActivityTenantUpdated)

	recent, err := repo.ListRecent(ctx, "tenant-a", since, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// 最新在前
	assert.Equal(t, entity.ActivityKeyRotated, recent[0].ActivityType)
	assert.True(t, recent[0].CreatedAt.After(recent[1].CreatedAt))
}

func TestTxManagerRollback(t *testing.T) {
	client := newTestClient(t)
	repo := NewTenantRepository(client)
	txm := NewTxManager(client)
	ctx := context.Background()

	boom := fmt.Errorf("provisioning failed")
	err := txm.WithTransaction(ctx, func(txCtx context.Context) error {
		tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
		if err := repo.Create(txCtx, tenant); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := repo.ExistsBySlug(ctx, "golden-wok")
	require.NoError(t, err)
	assert.False(t, exists, "事务失败时写入必须回滚")
}

func TestTxManagerRollsBackOnPanic(t *testing.T) {
	client := newTestClient(t)
	repo := NewTenantRepository(client)
	txm := NewTxManager(client)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = txm.WithTransaction(ctx, func(txCtx context.Context) error {
			tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
			require.NoError(t, repo.Create(txCtx, tenant))
			panic("mid-transaction failure")
		})
	})

	exists, err := repo.ExistsBySlug(ctx, "golden-wok")
	require.NoError(t, err)
	assert.False(t, exists, "panic 也必须回滚事务")
}

func TestTxManagerNestedReusesTransaction(t *testing.T) {
	client := newTestClient(t)
	repo := NewTenantRepository(client)
	txm := NewTxManager(client)
	ctx := context.Background()

	err := txm.WithTransaction(ctx, func(txCtx context.Context) error {
		tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
		if err := repo.Create(txCtx, tenant); err != nil {
			return err
		}
		// 嵌套调用复用外层事务，能看到未提交的写入
		return txm.WithTransaction(txCtx, func(innerCtx context.Context) error {
			exists, err := repo.ExistsBySlug(innerCtx, "golden-wok")
			if err != nil {
				return err
			}
			require.True(t, exists)
			return nil
		})
	})
	require.NoError(t, err)
}
