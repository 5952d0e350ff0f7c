package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"
	"resto-ops-api/pkg/metrics"

	"github.com/lib/pq"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// schemaObjectDDL 租户专属 Schema 内的业务对象集合
// 专属 Schema 内 Schema 本身就是隔离边界，表不再携带 tenant_id 列
var schemaObjectDDL = []string{
	`CREATE TABLE IF NOT EXISTS %s.menu_items (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		category VARCHAR(64) NOT NULL DEFAULT '',
		price_cents BIGINT NOT NULL DEFAULT 0,
		available BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %s.inventory_items (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		quantity NUMERIC(12,3) NOT NULL DEFAULT 0,
		unit VARCHAR(32) NOT NULL DEFAULT '',
		par_level NUMERIC(12,3) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %s.orders (
		id BIGSERIAL PRIMARY KEY,
		status VARCHAR(32) NOT NULL DEFAULT 'open',
		total_cents BIGINT NOT NULL DEFAULT 0,
		placed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS %s.vendors (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		contact VARCHAR(255) NOT NULL DEFAULT '',
		rating SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Provisioner Schema 供给器
//
// 为专属 Schema 策略的租户创建隔离单元并登记映射。
// 同一租户的并发供给通过 singleflight 串行化，
// 跨进程的竞争则由映射表上的唯一约束兜底
type Provisioner struct {
	sessions SessionProvider
	mappings repository.SchemaMappingRepository
	prefix   string
	group    singleflight.Group
}

// NewProvisioner 创建 Schema 供给器
func NewProvisioner(sessions SessionProvider, mappings repository.SchemaMappingRepository, prefix string) *Provisioner {
	return &Provisioner{
		sessions: sessions,
		mappings: mappings,
		prefix:   prefix,
	}
}

// Provision 为租户准备隔离单元，幂等
//
//   - 共享存储策略无需任何单元，直接返回
//   - 独立库策略只校验连接信息是否齐备，库本身由运维侧准备
//   - 专属 Schema 策略创建 Schema 与业务对象并登记映射
func (p *Provisioner) Provision(ctx context.Context, tenant *entity.Tenant) (*entity.TenantSchema, error) {
	ctx, span := tracer.Start(ctx, "Provisioner.Provision")
	defer span.End()

	switch tenant.Strategy {
	case entity.StrategySharedStorage:
		return nil, nil

	case entity.StrategyDedicatedDatabase:
		if tenant.DatabaseDSN == "" {
			metrics.ProvisioningTotal.WithLabelValues(string(tenant.Strategy), "error").Inc()
			return nil, apperrors.ErrProvisioningFailed.WithDetail("独立库策略必须提供连接信息")
		}
		return nil, nil

	case entity.StrategyDedicatedSchema:
		v, err, _ := p.group.Do(tenant.ID, func() (interface{}, error) {
			return p.provisionSchema(ctx, tenant)
		})
		if err != nil {
			span.RecordError(err)
			metrics.ProvisioningTotal.WithLabelValues(string(tenant.Strategy), "error").Inc()
			return nil, err
		}
		metrics.ProvisioningTotal.WithLabelValues(string(tenant.Strategy), "ok").Inc()
		return v.(*entity.TenantSchema), nil

	default:
		return nil, apperrors.ErrInvalidStrategy.WithDetail(string(tenant.Strategy))
	}
}

func (p *Provisioner) provisionSchema(ctx context.Context, tenant *entity.Tenant) (*entity.TenantSchema, error) {
	existing, err := p.mappings.GetByTenantID(ctx, tenant.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询 Schema 映射失败")
	}
	if existing != nil {
		if !existing.Active {
			return nil, apperrors.ErrProvisioningFailed.WithDetail(
				"租户隔离单元已停用，需人工确认后才能重新启用")
		}
		// 已有活跃单元，重复供给视为无操作
		return existing, nil
	}

	schemaName := p.SchemaNameFor(tenant)
	db := p.sessions.Session(ctx)

	if err := p.createObjects(db, schemaName); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeProvisioningFailed,
			fmt.Sprintf("创建 Schema %s 失败", schemaName))
	}

	mapping := &entity.TenantSchema{
		TenantID:   tenant.ID,
		SchemaName: schemaName,
		Active:     true,
	}
	if err := p.mappings.Create(ctx, mapping); err != nil {
		// 唯一约束冲突说明另一进程已抢先登记，读回它的结果
		if isUniqueViolation(err) {
			if winner, gerr := p.mappings.GetByTenantID(ctx, tenant.ID); gerr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, apperrors.Wrap(err, apperrors.CodeProvisioningFailed, "登记 Schema 映射失败")
	}

	logger.Info(ctx, "租户隔离单元已创建", "tenant_id", tenant.ID, "schema", schemaName)
	return mapping, nil
}

func (p *Provisioner) createObjects(db *gorm.DB, schemaName string) error {
	qi := pq.QuoteIdentifier(schemaName)
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", qi)).Error; err != nil {
		return err
	}
	for _, ddl := range schemaObjectDDL {
		if err := db.Exec(fmt.Sprintf(ddl, qi)).Error; err != nil {
			return err
		}
	}
	return nil
}

// Deprovision 停用租户的隔离单元
//
// 只把映射标记为停用，Schema 与数据原样保留，
// 供终止后的审计与可能的数据导出使用
func (p *Provisioner) Deprovision(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "Provisioner.Deprovision")
	defer span.End()

	if err := p.mappings.Deactivate(ctx, tenantID); err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "停用 Schema 映射失败")
	}
	logger.Info(ctx, "租户隔离单元已停用", "tenant_id", tenantID)
	return nil
}

// SchemaNameFor 根据租户 Slug 推导 Schema 名
func (p *Provisioner) SchemaNameFor(tenant *entity.Tenant) string {
	return p.prefix + sanitizeSchemaName(tenant.Slug)
}

// sanitizeSchemaName 只保留小写字母、数字与下划线
func sanitizeSchemaName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(strings.ToLower(err.Error()), "unique")
}

// MigrationStep 迁移计划中的单个步骤
type MigrationStep struct {
	Order       int    `json:"order"`
	Description string `json:"description"`
}

// MigrationPlan 隔离策略迁移计划
//
// 迁移本身尚未实现，计划用于评审数据搬迁的工作量与风险
type MigrationPlan struct {
	TenantID        string          `json:"tenant_id"`
	CurrentStrategy string          `json:"current_strategy"`
	TargetStrategy  string          `json:"target_strategy"`
	Steps           []MigrationStep `json:"steps"`
	Executable      bool            `json:"executable"`
}

// PlanMigration 生成策略迁移计划
func (p *Provisioner) PlanMigration(tenant *entity.Tenant, target entity.IsolationStrategy) (*MigrationPlan, error) {
	if !target.Valid() {
		return nil, apperrors.ErrInvalidStrategy.WithDetail(string(target))
	}
	if target == tenant.Strategy {
		return nil, apperrors.ErrInvalidStrategy.WithDetail("目标策略与当前策略相同")
	}

	plan := &MigrationPlan{
		TenantID:        tenant.ID,
		CurrentStrategy: string(tenant.Strategy),
		TargetStrategy:  string(target),
		Executable:      false,
	}
	steps := []string{
		"冻结租户写入并淘汰其连接句柄",
		fmt.Sprintf("为目标策略 %s 准备隔离单元", target),
		"按表导出租户数据并导入目标单元",
		"校验行数与校验和一致",
		"更新租户策略元数据并刷新注册表",
		"解冻写入，观察期后清理旧单元",
	}
	for i, s := range steps {
		plan.Steps = append(plan.Steps, MigrationStep{Order: i + 1, Description: s})
	}
	return plan, nil
}

// ExecuteMigration 执行策略迁移
//
// 数据搬迁尚未实现，调用一律失败且不触碰任何数据
func (p *Provisioner) ExecuteMigration(ctx context.Context, tenant *entity.Tenant, target entity.IsolationStrategy) error {
	return apperrors.ErrMigrationNotImplemented
}
