// Package tenancy 实现多租户数据隔离的核心能力：
// 租户注册表、连接路由、RLS 安全执行、Schema 供给与活动采集
package tenancy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("application/tenancy")

// registrySnapshot 不可变的租户快照，整体原子替换
type registrySnapshot struct {
	byID     map[string]*entity.Tenant
	byAPIKey map[string]*entity.Tenant
	loadedAt time.Time
}

// Registry 进程内租户注册表
//
// 全量加载租户元数据并以只读快照对外提供查询，
// 刷新采用换入新快照的方式，读路径无锁
type Registry struct {
	tenantRepo repository.TenantRepository
	snapshot   atomic.Pointer[registrySnapshot]
	reloadMu   sync.Mutex
}

// NewRegistry 创建租户注册表
func NewRegistry(tenantRepo repository.TenantRepository) *Registry {
	return &Registry{tenantRepo: tenantRepo}
}

// Load 全量加载租户元数据并替换当前快照
//
// 首次加载失败应视为致命错误，由调用方决定是否终止进程；
// 后续刷新失败则保留旧快照继续服务
func (r *Registry) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Registry.Load")
	defer span.End()

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	tenants, err := r.tenantRepo.GetAll(ctx)
	if err != nil {
		span.RecordError(err)
		if old := r.snapshot.Load(); old != nil {
			logger.Warn(ctx, "租户注册表刷新失败，继续使用旧快照",
				"error", err,
				"snapshot_age", time.Since(old.loadedAt).String(),
				"tenant_count", len(old.byID),
			)
			return nil
		}
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "加载租户注册表失败")
	}

	snap := &registrySnapshot{
		byID:     make(map[string]*entity.Tenant, len(tenants)),
		byAPIKey: make(map[string]*entity.Tenant, len(tenants)),
		loadedAt: time.Now(),
	}
	for _, t := range tenants {
		snap.byID[t.ID] = t
		if t.APIKey != "" {
			snap.byAPIKey[t.APIKey] = t
		}
	}
	r.snapshot.Store(snap)

	logger.Info(ctx, "租户注册表已加载", "tenant_count", len(tenants))
	return nil
}

// Get 按租户 ID 查询
//
// 未知租户、已终止租户一律返回租户不可用错误，
// 调用方不应区分“不存在”与“已终止”（避免探测）
func (r *Registry) Get(tenantID string) (*entity.Tenant, error) {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, apperrors.ErrTenantUnavailable.WithDetail("注册表尚未加载")
	}
	t, ok := snap.byID[tenantID]
	if !ok || !t.IsActive() {
		return nil, apperrors.ErrTenantUnavailable
	}
	return t, nil
}

// GetByAPIKey 按 API Key 查询活跃租户
func (r *Registry) GetByAPIKey(apiKey string) (*entity.Tenant, error) {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, apperrors.ErrTenantUnavailable.WithDetail("注册表尚未加载")
	}
	t, ok := snap.byAPIKey[apiKey]
	if !ok || !t.IsActive() {
		return nil, apperrors.ErrTenantUnavailable
	}
	return t, nil
}

// Invalidate 在租户元数据变更后触发刷新
func (r *Registry) Invalidate(ctx context.Context) {
	if err := r.Load(ctx); err != nil {
		logger.Error(ctx, "租户注册表刷新失败", err)
	}
}

// Size 当前快照中的租户数量
func (r *Registry) Size() int {
	snap := r.snapshot.Load()
	if snap == nil {
		return 0
	}
	return len(snap.byID)
}

// LoadedAt 当前快照的加载时间，未加载时返回零值
func (r *Registry) LoadedAt() time.Time {
	snap := r.snapshot.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.loadedAt
}
