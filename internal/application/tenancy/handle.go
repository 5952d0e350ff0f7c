package tenancy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/metrics"

	"gorm.io/gorm"
)

// ContextStamper 在事务内盖上租户上下文标记
type ContextStamper interface {
	StampContext(ctx context.Context, tenantID string) error
}

// SchemaSetter 在事务内切换 search_path 到租户专属 Schema
type SchemaSetter func(tx *gorm.DB, schema string) error

// Handle 租户连接句柄
//
// 封装按隔离策略准备好的数据库入口，
// 由路由器缓存复用，借出计数为零且超过空闲阈值后才会被淘汰
type Handle struct {
	tenantID string
	strategy entity.IsolationStrategy
	schema   string
	db       *gorm.DB

	stamper   ContextStamper
	setSchema SchemaSetter

	// 独立库句柄持有自己的连接池，淘汰时需要关闭
	dedicated bool

	acquireTimeout time.Duration
	queryTimeout   time.Duration

	// mu 保证借出期间不会被淘汰：借出持读锁，淘汰持写锁
	mu        sync.RWMutex
	closed    atomic.Bool
	borrowers atomic.Int64
	lastUsed  atomic.Int64
}

func newHandle(tenant *entity.Tenant, db *gorm.DB, cfg handleConfig) *Handle {
	h := &Handle{
		tenantID:       tenant.ID,
		strategy:       tenant.Strategy,
		schema:         cfg.schema,
		db:             db,
		stamper:        cfg.stamper,
		setSchema:      cfg.setSchema,
		dedicated:      tenant.Strategy == entity.StrategyDedicatedDatabase,
		acquireTimeout: cfg.acquireTimeout,
		queryTimeout:   cfg.queryTimeout,
	}
	h.lastUsed.Store(time.Now().UnixNano())
	return h
}

type handleConfig struct {
	schema         string
	stamper        ContextStamper
	setSchema      SchemaSetter
	acquireTimeout time.Duration
	queryTimeout   time.Duration
}

// TenantID 句柄所属租户
func (h *Handle) TenantID() string {
	return h.tenantID
}

// Strategy 句柄的隔离策略
func (h *Handle) Strategy() entity.IsolationStrategy {
	return h.strategy
}

// Borrowers 当前借出数
func (h *Handle) Borrowers() int64 {
	return h.borrowers.Load()
}

// WithConn 借出连接并在租户上下文就绪后执行 fn
//
// 整个借出-盖标-执行序列在同一事务内完成：
//   - 共享存储策略每次借出都重新 set_config 租户标记，
//     绝不信任池化连接上残留的会话状态
//   - 专属 Schema 策略以 SET LOCAL 切换 search_path
//   - 独立库策略连接本身即隔离，无需盖标
//
// fn 返回错误或事务提交失败时整体回滚
func (h *Handle) WithConn(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if !h.mu.TryRLock() {
		// 写锁仅在淘汰时持有
		return apperrors.ErrHandleClosed
	}
	defer h.mu.RUnlock()

	if h.closed.Load() {
		return apperrors.ErrHandleClosed
	}

	h.borrowers.Add(1)
	start := time.Now()
	defer func() {
		h.lastUsed.Store(time.Now().UnixNano())
		h.borrowers.Add(-1)
		metrics.ConnBorrowDuration.WithLabelValues(string(h.strategy)).Observe(time.Since(start).Seconds())
	}()

	// BeginTx 的 ctx 同时决定事务存活期，获取超时只能用来
	// 等待空闲连接，不能折叠进事务上下文
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, h.acquireTimeout)
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(acquireCtx)
	}
	cancelAcquire()
	if err != nil {
		return apperrors.ErrAcquireTimeout.WithError(err)
	}

	queryCtx, cancelQuery := context.WithTimeout(ctx, h.queryTimeout)
	defer cancelQuery()

	tx := h.db.WithContext(queryCtx).Begin()
	if tx.Error != nil {
		return apperrors.ErrAcquireTimeout.WithError(tx.Error)
	}

	txCtx := context.WithValue(queryCtx, repository.TxKey{}, tx)

	switch h.strategy {
	case entity.StrategySharedStorage:
		if err := h.stamper.StampContext(txCtx, h.tenantID); err != nil {
			tx.Rollback()
			return err
		}
	case entity.StrategyDedicatedSchema:
		if err := h.setSchema(tx, h.schema); err != nil {
			tx.Rollback()
			return apperrors.Wrap(err, apperrors.CodeDatabaseError, "切换租户 Schema 失败")
		}
	case entity.StrategyDedicatedDatabase:
		// 独立库无需盖标
	}

	if err := fn(txCtx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "提交租户事务失败")
	}
	return nil
}

// idleFor 距离上次借出归还的时长
func (h *Handle) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.lastUsed.Load()))
}

// close 关闭句柄，独立库句柄同时关闭底层连接池
// 调用方必须持有 mu 写锁
func (h *Handle) close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	if h.dedicated {
		if sqlDB, err := h.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
