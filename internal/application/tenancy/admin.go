package tenancy

import (
	"context"

	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"
	"resto-ops-api/pkg/utils"
)

// CreateTenantInput 创建租户的输入
type CreateTenantInput struct {
	Name         string
	Slug         string
	Strategy     entity.IsolationStrategy
	Tier         string
	MaxLocations int
	MaxUsers     int
	DatabaseDSN  string
}

// UpdateTenantInput 更新租户的输入，nil 字段表示不修改
type UpdateTenantInput struct {
	Name         *string
	Tier         *string
	MaxLocations *int
	MaxUsers     *int
}

// AdminService 租户生命周期管理
//
// 元数据写入与隔离单元供给在同一事务内完成，
// 供给失败时元数据一并回滚；注册表刷新与活动记录
// 在事务提交后进行
type AdminService struct {
	tenantRepo  repository.TenantRepository
	tx          repository.Transactor
	registry    *Registry
	router      *ConnRouter
	provisioner *Provisioner
	collector   *Collector
}

// NewAdminService 创建租户管理服务
func NewAdminService(
	tenantRepo repository.TenantRepository,
	tx repository.Transactor,
	registry *Registry,
	router *ConnRouter,
	provisioner *Provisioner,
	collector *Collector,
) *AdminService {
	return &AdminService{
		tenantRepo:  tenantRepo,
		tx:          tx,
		registry:    registry,
		router:      router,
		provisioner: provisioner,
		collector:   collector,
	}
}

// CreateTenant 创建租户并供给隔离单元
func (s *AdminService) CreateTenant(ctx context.Context, input CreateTenantInput) (*entity.Tenant, error) {
	ctx, span := tracer.Start(ctx, "AdminService.CreateTenant")
	defer span.End()

	if !input.Strategy.Valid() {
		return nil, apperrors.ErrInvalidStrategy.WithDetail(string(input.Strategy))
	}

	exists, err := s.tenantRepo.ExistsBySlug(ctx, input.Slug)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询租户 Slug 失败")
	}
	if exists {
		return nil, apperrors.ErrTenantConflict.WithDetail(input.Slug)
	}

	tenant := entity.NewTenant(input.Name, input.Slug, input.Strategy)
	if input.Tier != "" {
		tenant.Tier = input.Tier
	}
	if input.MaxLocations > 0 {
		tenant.MaxLocations = input.MaxLocations
	}
	if input.MaxUsers > 0 {
		tenant.MaxUsers = input.MaxUsers
	}
	tenant.DatabaseDSN = input.DatabaseDSN

	apiKey, err := utils.GenerateAPIKey()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "生成 API Key 失败")
	}
	tenant.APIKey = apiKey

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.tenantRepo.Create(txCtx, tenant); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "写入租户元数据失败")
		}
		if _, err := s.provisioner.Provision(txCtx, tenant); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.registry.Invalidate(ctx)
	s.collector.Log(ctx, tenant.ID, entity.ActivityTenantCreated, map[string]any{
		"slug":     tenant.Slug,
		"strategy": string(tenant.Strategy),
		"tier":     tenant.Tier,
	})

	logger.Info(ctx, "租户已创建",
		"tenant_id", tenant.ID, "slug", tenant.Slug, "strategy", tenant.Strategy)
	return tenant, nil
}

// GetTenant 查询单个租户
func (s *AdminService) GetTenant(ctx context.Context, id string) (*entity.Tenant, error) {
	tenant, err := s.tenantRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询租户失败")
	}
	if tenant == nil {
		return nil, apperrors.ErrTenantUnavailable
	}
	return tenant, nil
}

// ListTenants 按条件分页查询租户
func (s *AdminService) ListTenants(ctx context.Context, filter repository.TenantFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Tenant], error) {
	result, err := s.tenantRepo.List(ctx, filter, pagination)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询租户列表失败")
	}
	return result, nil
}

// UpdateTenant 更新租户可变元数据
//
// 隔离策略与 Slug 不在此路径修改：策略变更必须走迁移计划
func (s *AdminService) UpdateTenant(ctx context.Context, id string, input UpdateTenantInput) (*entity.Tenant, error) {
	ctx, span := tracer.Start(ctx, "AdminService.UpdateTenant")
	defer span.End()

	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := map[string]any{}
	if input.Name != nil && *input.Name != tenant.Name {
		tenant.Name = *input.Name
		changed["name"] = *input.Name
	}
	if input.Tier != nil && *input.Tier != tenant.Tier {
		tenant.Tier = *input.Tier
		changed["tier"] = *input.Tier
	}
	if input.MaxLocations != nil && *input.MaxLocations > 0 {
		tenant.MaxLocations = *input.MaxLocations
		changed["max_locations"] = *input.MaxLocations
	}
	if input.MaxUsers != nil && *input.MaxUsers > 0 {
		tenant.MaxUsers = *input.MaxUsers
		changed["max_users"] = *input.MaxUsers
	}
	if len(changed) == 0 {
		return tenant, nil
	}

	if err := s.tenantRepo.Update(ctx, tenant); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "更新租户失败")
	}

	s.registry.Invalidate(ctx)
	s.collector.Log(ctx, tenant.ID, entity.ActivityTenantUpdated, changed)
	return tenant, nil
}

// TerminateTenant 终止租户
//
// 置为终止状态、停用隔离单元、淘汰连接句柄；数据保留
func (s *AdminService) TerminateTenant(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "AdminService.TerminateTenant")
	defer span.End()

	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if tenant.Status == entity.TenantStatusTerminated {
		return nil
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.tenantRepo.UpdateStatus(txCtx, id, entity.TenantStatusTerminated); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "更新租户状态失败")
		}
		if tenant.Strategy == entity.StrategyDedicatedSchema {
			return s.provisioner.Deprovision(txCtx, id)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.registry.Invalidate(ctx)
	s.router.Evict(ctx, id)
	s.collector.Log(ctx, id, entity.ActivityTenantTerminated, map[string]any{
		"slug": tenant.Slug,
	})

	logger.Info(ctx, "租户已终止", "tenant_id", id, "slug", tenant.Slug)
	return nil
}

// DeleteTenant 物理删除租户
//
// force 删除路径：元数据行被移除，隔离单元停用，句柄淘汰。
// 共享表里的业务数据不级联清理，归档由运维流程负责
func (s *AdminService) DeleteTenant(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "AdminService.DeleteTenant")
	defer span.End()

	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if tenant.Strategy == entity.StrategyDedicatedSchema {
			if err := s.provisioner.Deprovision(txCtx, id); err != nil {
				return err
			}
		}
		if err := s.tenantRepo.Delete(txCtx, id); err != nil {
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "删除租户失败")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.registry.Invalidate(ctx)
	s.router.Evict(ctx, id)
	s.collector.Log(ctx, id, entity.ActivityTenantDeleted, map[string]any{
		"slug":     tenant.Slug,
		"strategy": string(tenant.Strategy),
	})

	logger.Info(ctx, "租户已删除", "tenant_id", id, "slug", tenant.Slug)
	return nil
}

// RotateAPIKey 轮换租户 API Key，旧 Key 立即失效
func (s *AdminService) RotateAPIKey(ctx context.Context, id string) (*entity.Tenant, error) {
	ctx, span := tracer.Start(ctx, "AdminService.RotateAPIKey")
	defer span.End()

	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	apiKey, err := utils.GenerateAPIKey()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "生成 API Key 失败")
	}
	oldMasked := utils.MaskAPIKey(tenant.APIKey)
	tenant.APIKey = apiKey

	if err := s.tenantRepo.Update(ctx, tenant); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "更新租户 API Key 失败")
	}

	s.registry.Invalidate(ctx)
	s.collector.Log(ctx, id, entity.ActivityKeyRotated, map[string]any{
		"old_key": oldMasked,
		"new_key": utils.MaskAPIKey(apiKey),
	})

	logger.Info(ctx, "租户 API Key 已轮换", "tenant_id", id, "old_key", oldMasked)
	return tenant, nil
}

// PlanStrategyMigration 生成策略迁移计划
func (s *AdminService) PlanStrategyMigration(ctx context.Context, id string, target entity.IsolationStrategy) (*MigrationPlan, error) {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	plan, err := s.provisioner.PlanMigration(tenant, target)
	if err != nil {
		return nil, err
	}

	s.collector.Log(ctx, id, entity.ActivityMigrationPlanned, map[string]any{
		"current": string(tenant.Strategy),
		"target":  string(target),
	})
	return plan, nil
}

// MigrateStrategy 执行策略迁移
//
// 数据搬迁尚未实现，只生成计划后立即返回未实现错误
func (s *AdminService) MigrateStrategy(ctx context.Context, id string, target entity.IsolationStrategy) error {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.provisioner.PlanMigration(tenant, target); err != nil {
		return err
	}
	return s.provisioner.ExecuteMigration(ctx, tenant, target)
}
