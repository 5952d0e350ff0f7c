package tenancy

import (
	"context"
	"testing"

	"resto-ops-api/internal/domain/entity"
	apperrors "resto-ops-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLoadAndGet(t *testing.T) {
	active := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	active.APIKey = "rok_active_key"
	terminated := entity.NewTenant("Closed Diner", "closed-diner", entity.StrategySharedStorage)
	terminated.Status = entity.TenantStatusTerminated

	reg, _ := loadedRegistry(t, active, terminated)

	got, err := reg.Get(active.ID)
	require.NoError(t, err)
	assert.Equal(t, active.Slug, got.Slug)
	assert.Equal(t, 2, reg.Size())
	assert.False(t, reg.LoadedAt().IsZero())

	// 已终止租户与不存在的租户必须返回同一个错误，避免探测
	_, errTerminated := reg.Get(terminated.ID)
	_, errUnknown := reg.Get("no-such-tenant")
	require.Error(t, errTerminated)
	require.Error(t, errUnknown)
	assert.True(t, apperrors.IsCode(errTerminated, apperrors.CodeTenantUnavailable))
	assert.Equal(t, errTerminated.Error(), errUnknown.Error())
}

func TestRegistryGetByAPIKey(t *testing.T) {
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	tenant.APIKey = "rok_lookup_key"
	reg, _ := loadedRegistry(t, tenant)

	got, err := reg.GetByAPIKey("rok_lookup_key")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)

	_, err = reg.GetByAPIKey("rok_bogus")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantUnavailable))
}

func TestRegistryBeforeFirstLoad(t *testing.T) {
	reg := NewRegistry(newFakeTenantRepo())

	_, err := reg.Get("anything")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantUnavailable))
	assert.Equal(t, 0, reg.Size())
	assert.True(t, reg.LoadedAt().IsZero())
}

func TestRegistryFirstLoadFailure(t *testing.T) {
	repo := newFakeTenantRepo()
	repo.failGetAll = true
	reg := NewRegistry(repo)

	err := reg.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDatabaseError))
}

func TestRegistryRefreshFailureKeepsSnapshot(t *testing.T) {
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	reg, repo := loadedRegistry(t, tenant)

	repo.failGetAll = true
	// 刷新失败不报错，旧快照继续服务
	require.NoError(t, reg.Load(context.Background()))

	got, err := reg.Get(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
}

func TestRegistryInvalidatePicksUpChanges(t *testing.T) {
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	reg, repo := loadedRegistry(t, tenant)

	tenant.Status = entity.TenantStatusTerminated
	require.NoError(t, repo.Update(context.Background(), tenant))
	reg.Invalidate(context.Background())

	_, err := reg.Get(tenant.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantUnavailable))
}
