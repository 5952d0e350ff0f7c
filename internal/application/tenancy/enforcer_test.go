package tenancy

import (
	"context"
	"testing"

	"resto-ops-api/internal/infrastructure/persistence/postgres"
	apperrors "resto-ops-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *gorm.DB, *fakeTenantCtx) {
	t.Helper()
	db := newTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE menu_items (id INTEGER PRIMARY KEY, tenant_id TEXT, name TEXT)").Error)
	require.NoError(t, db.Exec("CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id TEXT, status TEXT)").Error)

	tenantCtx := &fakeTenantCtx{}
	enforcer := NewEnforcer(postgres.NewClientFromDB(db), tenantCtx, []string{"menu_items", "orders"})
	return enforcer, db, tenantCtx
}

func seedLeakRows(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, stmt := range []string{
		"INSERT INTO menu_items (tenant_id, name) VALUES ('tenant-a', 'mapo tofu')",
		"INSERT INTO menu_items (tenant_id, name) VALUES ('tenant-a', 'dan dan noodles')",
		"INSERT INTO menu_items (tenant_id, name) VALUES ('tenant-b', 'ramen')",
		"INSERT INTO orders (tenant_id, status) VALUES ('tenant-a', 'open')",
		"INSERT INTO orders (tenant_id, status) VALUES ('tenant-b', 'closed')",
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
}

func TestDiagnoseRefusesWithoutContext(t *testing.T) {
	enforcer, _, _ := newTestEnforcer(t)

	// 未盖标时全表可见，零泄漏的结论是假的，必须拒绝诊断
	_, err := enforcer.Diagnose(context.Background(), "tenant-a", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantContextMissing))
}

func TestDiagnoseRejectsMismatchedTenant(t *testing.T) {
	enforcer, _, tenantCtx := newTestEnforcer(t)
	tenantCtx.current = "tenant-a"

	_, err := enforcer.Diagnose(context.Background(), "tenant-b", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantContextInvalid))
}

func TestDiagnoseCountsLeakedRows(t *testing.T) {
	enforcer, db, tenantCtx := newTestEnforcer(t)
	seedLeakRows(t, db)
	tenantCtx.current = "tenant-a"

	// SQLite 没有 RLS，五行全部可见，其中两行属于 tenant-b
	report, err := enforcer.Diagnose(context.Background(), "tenant-a", nil)
	require.NoError(t, err)

	assert.Equal(t, "tenant-a", report.TenantID)
	assert.EqualValues(t, 5, report.VisibleRows)
	assert.EqualValues(t, 2, report.LeakedRows)
	assert.InDelta(t, 0.4, report.LeakRatio, 1e-9)
	assert.False(t, report.Clean())
	assert.Len(t, report.Tables, 2)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestDiagnoseDefaultsToSessionTenant(t *testing.T) {
	enforcer, db, tenantCtx := newTestEnforcer(t)
	seedLeakRows(t, db)
	tenantCtx.current = "tenant-b"

	report, err := enforcer.Diagnose(context.Background(), "", []string{"orders"})
	require.NoError(t, err)
	assert.Equal(t, "tenant-b", report.TenantID)
	assert.EqualValues(t, 2, report.VisibleRows)
	assert.EqualValues(t, 1, report.LeakedRows)
}

func TestDiagnoseRecordsPerTableErrors(t *testing.T) {
	enforcer, db, tenantCtx := newTestEnforcer(t)
	seedLeakRows(t, db)
	tenantCtx.current = "tenant-a"

	report, err := enforcer.Diagnose(context.Background(), "tenant-a", []string{"menu_items", "no_such_table"})
	require.NoError(t, err, "单表失败不应拖垮整个诊断")

	require.Len(t, report.Tables, 2)
	assert.Empty(t, report.Tables[0].Error)
	assert.NotEmpty(t, report.Tables[1].Error)
	// 失败表不计入汇总
	assert.EqualValues(t, 3, report.VisibleRows)
	assert.EqualValues(t, 1, report.LeakedRows)
}

// seedRoleRow 用同名表伪造 pg_roles，current_user 列让
// 角色查询的 WHERE rolname = current_user 在 SQLite 上成立
func seedRoleRow(t *testing.T, db *gorm.DB, rolname string, super, bypass bool) {
	t.Helper()
	require.NoError(t, db.Exec(
		`CREATE TABLE IF NOT EXISTS pg_roles (rolname TEXT, rolsuper BOOLEAN, rolbypassrls BOOLEAN, "current_user" TEXT)`).Error)
	require.NoError(t, db.Exec("DELETE FROM pg_roles").Error)
	require.NoError(t, db.Exec(
		`INSERT INTO pg_roles (rolname, rolsuper, rolbypassrls, "current_user") VALUES (?, ?, ?, ?)`,
		rolname, super, bypass, rolname).Error)
}

func TestWhoAmIFlagsDangerousRole(t *testing.T) {
	enforcer, db, _ := newTestEnforcer(t)
	seedRoleRow(t, db, "postgres", true, true)

	report, err := enforcer.WhoAmI(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "postgres", report.Role)
	assert.True(t, report.Superuser)
	assert.True(t, report.BypassRLS)
	assert.False(t, report.ContextEstablished)
	// 超级用户、BYPASSRLS、缺失上下文各告警一条
	assert.Len(t, report.Warnings, 3)
}

func TestWhoAmICleanRole(t *testing.T) {
	enforcer, db, tenantCtx := newTestEnforcer(t)
	seedRoleRow(t, db, "resto_app", false, false)
	tenantCtx.current = "tenant-a"

	report, err := enforcer.WhoAmI(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "resto_app", report.Role)
	assert.False(t, report.Superuser)
	assert.False(t, report.BypassRLS)
	assert.Equal(t, "tenant-a", report.TenantContext)
	assert.True(t, report.ContextEstablished)
	assert.Empty(t, report.Warnings)
}

func TestStampContextDelegates(t *testing.T) {
	enforcer, _, tenantCtx := newTestEnforcer(t)

	require.NoError(t, enforcer.StampContext(context.Background(), "tenant-a"))
	assert.Equal(t, []string{"tenant-a"}, tenantCtx.stamps)

	current, err := tenantCtx.GetCurrentTenant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", current)
}
