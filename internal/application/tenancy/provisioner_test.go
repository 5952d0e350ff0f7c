package tenancy

import (
	"context"
	"fmt"
	"testing"

	"resto-ops-api/internal/domain/entity"
	apperrors "resto-ops-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// dryRunSessions 返回只生成 SQL 不执行的会话，供 DDL 路径测试
func dryRunSessions(t *testing.T) *fakeSessions {
	t.Helper()
	db := newTestDB(t)
	return &fakeSessions{db: db.Session(&gorm.Session{DryRun: true})}
}

func TestProvisionSharedStorageIsNoop(t *testing.T) {
	p := NewProvisioner(dryRunSessions(t), newFakeSchemaRepo(), "tenant_")
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)

	mapping, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestProvisionDedicatedDatabaseValidatesDSN(t *testing.T) {
	p := NewProvisioner(dryRunSessions(t), newFakeSchemaRepo(), "tenant_")
	tenant := entity.NewTenant("Steak House", "steak-house", entity.StrategyDedicatedDatabase)

	_, err := p.Provision(context.Background(), tenant)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProvisioningFailed))

	tenant.DatabaseDSN = "host=tenant-db dbname=steak_house"
	mapping, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	assert.Nil(t, mapping, "独立库由运维侧准备，不登记映射")
}

func TestProvisionSchemaCreatesMapping(t *testing.T) {
	schemas := newFakeSchemaRepo()
	p := NewProvisioner(dryRunSessions(t), schemas, "tenant_")
	tenant := entity.NewTenant("Sushi Bar", "Sushi-Bar 99", entity.StrategyDedicatedSchema)

	mapping, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, tenant.ID, mapping.TenantID)
	assert.Equal(t, "tenant_sushi_bar99", mapping.SchemaName)
	assert.True(t, mapping.Active)

	stored, err := schemas.GetByTenantID(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, mapping.SchemaName, stored.SchemaName)
}

func TestProvisionSchemaIdempotent(t *testing.T) {
	schemas := newFakeSchemaRepo()
	p := NewProvisioner(dryRunSessions(t), schemas, "tenant_")
	tenant := entity.NewTenant("Sushi Bar", "sushi-bar", entity.StrategyDedicatedSchema)

	first, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	second, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, first.SchemaName, second.SchemaName)
}

func TestProvisionSchemaRefusesInactiveUnit(t *testing.T) {
	schemas := newFakeSchemaRepo()
	p := NewProvisioner(dryRunSessions(t), schemas, "tenant_")
	tenant := entity.NewTenant("Sushi Bar", "sushi-bar", entity.StrategyDedicatedSchema)

	require.NoError(t, schemas.Create(context.Background(), &entity.TenantSchema{
		TenantID:   tenant.ID,
		SchemaName: "tenant_sushi_bar",
		Active:     false,
	}))

	// 停用单元不得静默复活，需要人工介入
	_, err := p.Provision(context.Background(), tenant)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeProvisioningFailed))
}

// raceSchemaRepo 模拟跨进程竞争：本进程登记时撞唯一约束，
// 读回时能看到对方已写入的映射
type raceSchemaRepo struct {
	winner   *entity.TenantSchema
	getCalls int
}

func (r *raceSchemaRepo) Create(_ context.Context, _ *entity.TenantSchema) error {
	return fmt.Errorf("UNIQUE constraint failed: tenant_schemas.tenant_id")
}

func (r *raceSchemaRepo) GetByTenantID(_ context.Context, _ string) (*entity.TenantSchema, error) {
	r.getCalls++
	if r.getCalls == 1 {
		return nil, nil
	}
	return r.winner, nil
}

func (r *raceSchemaRepo) Deactivate(_ context.Context, _ string) error { return nil }

func TestProvisionSchemaLosingRaceReadsBackWinner(t *testing.T) {
	tenant := entity.NewTenant("Sushi Bar", "sushi-bar", entity.StrategyDedicatedSchema)
	winner := &entity.TenantSchema{
		TenantID:   tenant.ID,
		SchemaName: "tenant_sushi_bar",
		Active:     true,
	}
	p := NewProvisioner(dryRunSessions(t), &raceSchemaRepo{winner: winner}, "tenant_")

	mapping, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, winner.SchemaName, mapping.SchemaName)
}

func TestDeprovisionKeepsData(t *testing.T) {
	schemas := newFakeSchemaRepo()
	p := NewProvisioner(dryRunSessions(t), schemas, "tenant_")
	tenant := entity.NewTenant("Sushi Bar", "sushi-bar", entity.StrategyDedicatedSchema)

	_, err := p.Provision(context.Background(), tenant)
	require.NoError(t, err)
	require.NoError(t, p.Deprovision(context.Background(), tenant.ID))

	mapping, err := schemas.GetByTenantID(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, mapping, "停用不是删除，映射保留")
	assert.False(t, mapping.Active)
}

func TestSchemaNameSanitization(t *testing.T) {
	p := NewProvisioner(nil, nil, "tenant_")

	cases := map[string]string{
		"golden-wok":   "tenant_golden_wok",
		"Sushi Bar 99": "tenant_sushibar99",
		"UPPER_case":   "tenant_upper_case",
		"we!rd$chars%": "tenant_werdchars",
		"dash--double": "tenant_dash__double",
	}
	for slug, want := range cases {
		tenant := &entity.Tenant{Slug: slug}
		assert.Equal(t, want, p.SchemaNameFor(tenant), "slug %q", slug)
	}
}

func TestPlanMigration(t *testing.T) {
	p := NewProvisioner(nil, nil, "tenant_")
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)

	_, err := p.PlanMigration(tenant, entity.IsolationStrategy("bogus"))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStrategy))

	_, err = p.PlanMigration(tenant, entity.StrategySharedStorage)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStrategy), "目标策略与当前相同")

	plan, err := p.PlanMigration(tenant, entity.StrategyDedicatedSchema)
	require.NoError(t, err)
	assert.Equal(t, string(entity.StrategySharedStorage), plan.CurrentStrategy)
	assert.Equal(t, string(entity.StrategyDedicatedSchema), plan.TargetStrategy)
	assert.False(t, plan.Executable)
	require.NotEmpty(t, plan.Steps)
	for i, step := range plan.Steps {
		assert.Equal(t, i+1, step.Order)
		assert.NotEmpty(t, step.Description)
	}
}

func TestExecuteMigrationAlwaysFails(t *testing.T) {
	p := NewProvisioner(nil, nil, "tenant_")
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)

	err := p.ExecuteMigration(context.Background(), tenant, entity.StrategyDedicatedSchema)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeMigrationNotImplemented))
}
