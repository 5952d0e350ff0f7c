package tenancy

import (
	"context"
	"fmt"
	"time"

	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"
	"resto-ops-api/pkg/metrics"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SessionProvider 返回感知事务的 DB 会话
type SessionProvider interface {
	Session(ctx context.Context) *gorm.DB
}

// rlsPolicyName 所有受管表共用的隔离策略名
const rlsPolicyName = "tenant_isolation"

// Enforcer RLS 安全执行器
//
// 负责三件事：在事务内盖租户标记、把受管表切到 FORCE 模式、
// 诊断越权可见行。盖标一律使用 is_local=TRUE 的 set_config，
// 标记随事务消亡，杜绝池化连接间的上下文串号
type Enforcer struct {
	sessions  SessionProvider
	tenantCtx repository.TenantContextManager
	tables    []string
}

// NewEnforcer 创建 RLS 安全执行器
func NewEnforcer(sessions SessionProvider, tenantCtx repository.TenantContextManager, tables []string) *Enforcer {
	return &Enforcer{
		sessions:  sessions,
		tenantCtx: tenantCtx,
		tables:    tables,
	}
}

// StampContext 在当前事务内设置租户上下文
func (e *Enforcer) StampContext(ctx context.Context, tenantID string) error {
	return e.tenantCtx.SetTenant(ctx, tenantID)
}

// EnforceForceMode 将受管表切换到 FORCE ROW LEVEL SECURITY
//
// 普通 ENABLE 模式下表的属主角色不受策略约束，应用通常恰好
// 以属主连接，等于裸奔；FORCE 模式连属主也一并纳入。
// 操作幂等，启动引导时对全部共享表执行一次
func (e *Enforcer) EnforceForceMode(ctx context.Context, tables []string) error {
	ctx, span := tracer.Start(ctx, "Enforcer.EnforceForceMode")
	defer span.End()

	if len(tables) == 0 {
		tables = e.tables
	}
	db := e.sessions.Session(ctx)

	for _, table := range tables {
		if err := e.enforceTable(ctx, db, table); err != nil {
			span.RecordError(err)
			metrics.ForceModeApplied.WithLabelValues(table, "error").Inc()
			return apperrors.Wrap(err, apperrors.CodeDatabaseError,
				fmt.Sprintf("表 %s 启用 FORCE RLS 失败", table))
		}
		metrics.ForceModeApplied.WithLabelValues(table, "ok").Inc()
	}

	logger.Info(ctx, "受管表已切换到 FORCE RLS 模式", "tables", tables)
	return nil
}

func (e *Enforcer) enforceTable(ctx context.Context, db *gorm.DB, table string) error {
	qi := pq.QuoteIdentifier(table)

	if err := db.Exec(fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", qi)).Error; err != nil {
		return err
	}

	var policies int64
	if err := db.Raw(
		"SELECT count(*) FROM pg_policies WHERE schemaname = current_schema() AND tablename = ? AND policyname = ?",
		table, rlsPolicyName,
	).Scan(&policies).Error; err != nil {
		return err
	}
	if policies == 0 {
		stmt := fmt.Sprintf(
			`CREATE POLICY %s ON %s
			USING (tenant_id = current_setting('app.current_tenant_id', TRUE))
			WITH CHECK (tenant_id = current_setting('app.current_tenant_id', TRUE))`,
			pq.QuoteIdentifier(rlsPolicyName), qi,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return db.Exec(fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", qi)).Error
}

// TableLeak 单表泄漏统计
type TableLeak struct {
	Table       string `json:"table"`
	VisibleRows int64  `json:"visible_rows"`
	LeakedRows  int64  `json:"leaked_rows"`
	Error       string `json:"error,omitempty"`
}

// LeakReport 越权可见性诊断报告
type LeakReport struct {
	TenantID    string      `json:"tenant_id"`
	Tables      []TableLeak `json:"tables"`
	VisibleRows int64       `json:"visible_rows"`
	LeakedRows  int64       `json:"leaked_rows"`
	LeakRatio   float64     `json:"leak_ratio"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Clean 报告是否未发现泄漏
func (r *LeakReport) Clean() bool {
	return r.LeakedRows == 0
}

// Diagnose 统计当前会话可见但不属于指定租户的行
//
// 必须在已盖租户标记的事务内调用：未设置上下文时拒绝诊断
// 而不是带着全表可见性给出虚假的“零泄漏”结论。
// 泄漏行数大于零说明 RLS 策略缺失或未进入 FORCE 模式
func (e *Enforcer) Diagnose(ctx context.Context, tenantID string, tables []string) (*LeakReport, error) {
	ctx, span := tracer.Start(ctx, "Enforcer.Diagnose")
	defer span.End()

	current, err := e.tenantCtx.GetCurrentTenant(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取租户上下文失败")
	}
	if current == "" {
		return nil, apperrors.ErrTenantContextMissing
	}
	if tenantID == "" {
		tenantID = current
	}
	if tenantID != current {
		return nil, apperrors.ErrTenantContextInvalid.WithDetail(
			fmt.Sprintf("会话上下文为 %s，与请求的租户 %s 不一致", current, tenantID))
	}

	if len(tables) == 0 {
		tables = e.tables
	}
	db := e.sessions.Session(ctx)

	report := &LeakReport{
		TenantID:  tenantID,
		Tables:    make([]TableLeak, 0, len(tables)),
		CheckedAt: time.Now(),
	}

	for _, table := range tables {
		leak := TableLeak{Table: table}
		qi := pq.QuoteIdentifier(table)

		if err := db.Raw(fmt.Sprintf("SELECT count(*) FROM %s", qi)).Scan(&leak.VisibleRows).Error; err != nil {
			leak.Error = err.Error()
			report.Tables = append(report.Tables, leak)
			continue
		}
		if err := db.Raw(
			fmt.Sprintf("SELECT count(*) FROM %s WHERE tenant_id IS DISTINCT FROM ?", qi), tenantID,
		).Scan(&leak.LeakedRows).Error; err != nil {
			leak.Error = err.Error()
			report.Tables = append(report.Tables, leak)
			continue
		}

		report.VisibleRows += leak.VisibleRows
		report.LeakedRows += leak.LeakedRows
		if leak.LeakedRows > 0 {
			metrics.LeakRowsDetected.WithLabelValues(table).Add(float64(leak.LeakedRows))
		}
		report.Tables = append(report.Tables, leak)
	}
	if report.VisibleRows > 0 {
		report.LeakRatio = float64(report.LeakedRows) / float64(report.VisibleRows)
	}

	if !report.Clean() {
		logger.Warn(ctx, "检测到越权可见行",
			"tenant_id", tenantID,
			"leaked_rows", report.LeakedRows,
			"visible_rows", report.VisibleRows,
		)
	}
	return report, nil
}

// WhoAmIReport 连接身份与 RLS 生效状态
type WhoAmIReport struct {
	Role               string   `json:"role"`
	Superuser          bool     `json:"superuser"`
	BypassRLS          bool     `json:"bypass_rls"`
	TenantContext      string   `json:"tenant_context,omitempty"`
	ContextEstablished bool     `json:"context_established"`
	Warnings           []string `json:"warnings,omitempty"`
}

// WhoAmI 报告当前数据库角色及其是否会绕过 RLS
func (e *Enforcer) WhoAmI(ctx context.Context) (*WhoAmIReport, error) {
	ctx, span := tracer.Start(ctx, "Enforcer.WhoAmI")
	defer span.End()

	db := e.sessions.Session(ctx)
	report := &WhoAmIReport{}

	var role struct {
		Rolname      string
		Rolsuper     bool
		Rolbypassrls bool
	}
	if err := db.Raw(
		"SELECT rolname, rolsuper, rolbypassrls FROM pg_roles WHERE rolname = current_user",
	).Scan(&role).Error; err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询连接角色失败")
	}
	report.Role = role.Rolname
	report.Superuser = role.Rolsuper
	report.BypassRLS = role.Rolbypassrls

	current, err := e.tenantCtx.GetCurrentTenant(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取租户上下文失败")
	}
	report.TenantContext = current
	report.ContextEstablished = current != ""

	if report.Superuser {
		report.Warnings = append(report.Warnings, "连接角色为超级用户，RLS 对其完全不生效")
	}
	if report.BypassRLS {
		report.Warnings = append(report.Warnings, "连接角色带有 BYPASSRLS，任何策略都不会过滤其查询")
	}
	if !report.ContextEstablished {
		report.Warnings = append(report.Warnings, "当前会话未设置租户上下文，FORCE 模式下查询将返回空集")
	}
	return report, nil
}
