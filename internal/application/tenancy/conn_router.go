package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"
	"resto-ops-api/pkg/metrics"

	"github.com/lib/pq"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PoolOpener 按 DSN 打开一个独立连接池，可注入以便测试
type PoolOpener func(dsn string, cfg config.RouterConfig) (*gorm.DB, error)

// DefaultPoolOpener 打开 PostgreSQL 独立连接池
func DefaultPoolOpener(dsn string, cfg config.RouterConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DedicatedMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DedicatedMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// DefaultSchemaSetter 以 SET LOCAL 切换 search_path，随事务结束失效
func DefaultSchemaSetter(tx *gorm.DB, schema string) error {
	return tx.Exec(fmt.Sprintf("SET LOCAL search_path TO %s, public", pq.QuoteIdentifier(schema))).Error
}

// ConnRouter 连接路由器
//
// 按租户的隔离策略解析出连接句柄并缓存复用；
// 同一租户的并发未命中通过 singleflight 合并，避免重复开池
type ConnRouter struct {
	registry *Registry
	schemas  repository.SchemaMappingRepository
	shared   *gorm.DB
	stamper  ContextStamper

	opener    PoolOpener
	setSchema SchemaSetter
	cfg       config.RouterConfig

	handles sync.Map
	group   singleflight.Group

	sweepStop chan struct{}
	sweepDone chan struct{}
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewConnRouter 创建连接路由器
func NewConnRouter(
	registry *Registry,
	schemas repository.SchemaMappingRepository,
	shared *gorm.DB,
	stamper ContextStamper,
	cfg config.RouterConfig,
) *ConnRouter {
	return &ConnRouter{
		registry:  registry,
		schemas:   schemas,
		shared:    shared,
		stamper:   stamper,
		opener:    DefaultPoolOpener,
		setSchema: DefaultSchemaSetter,
		cfg:       cfg,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// WithPoolOpener 替换独立池的打开方式（测试用）
func (r *ConnRouter) WithPoolOpener(opener PoolOpener) *ConnRouter {
	r.opener = opener
	return r
}

// WithSchemaSetter 替换 search_path 切换方式（测试用）
func (r *ConnRouter) WithSchemaSetter(setter SchemaSetter) *ConnRouter {
	r.setSchema = setter
	return r
}

// RouteFor 解析租户的连接句柄
//
// 未知或已终止的租户返回租户不可用错误；
// 构建失败的句柄不会进入缓存，下次路由会重试
func (r *ConnRouter) RouteFor(ctx context.Context, tenantID string) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "ConnRouter.RouteFor")
	defer span.End()

	tenant, err := r.registry.Get(tenantID)
	if err != nil {
		metrics.RouteTotal.WithLabelValues("unknown", "error").Inc()
		return nil, err
	}
	if !tenant.Strategy.Valid() {
		metrics.RouteTotal.WithLabelValues(string(tenant.Strategy), "error").Inc()
		return nil, apperrors.ErrInvalidStrategy.WithDetail(string(tenant.Strategy))
	}

	if h, ok := r.lookup(tenantID); ok {
		metrics.RouteTotal.WithLabelValues(string(tenant.Strategy), "hit").Inc()
		return h, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		if h, ok := r.lookup(tenantID); ok {
			return h, nil
		}
		h, err := r.buildHandle(ctx, tenant)
		if err != nil {
			return nil, err
		}
		r.handles.Store(tenantID, h)
		metrics.HandlesOpen.WithLabelValues(string(tenant.Strategy)).Inc()
		return h, nil
	})
	if err != nil {
		span.RecordError(err)
		metrics.RouteTotal.WithLabelValues(string(tenant.Strategy), "error").Inc()
		return nil, err
	}
	metrics.RouteTotal.WithLabelValues(string(tenant.Strategy), "miss").Inc()
	return v.(*Handle), nil
}

// WithConn 路由到租户句柄并借出执行 fn
//
// 句柄在路由与借出之间被并发淘汰时重新路由一次，
// 调用方无需自行处理句柄已关闭
func (r *ConnRouter) WithConn(ctx context.Context, tenantID string, fn func(ctx context.Context, tx *gorm.DB) error) error {
	h, err := r.RouteFor(ctx, tenantID)
	if err != nil {
		return err
	}
	err = h.WithConn(ctx, fn)
	if !apperrors.IsCode(err, apperrors.CodeHandleClosed) {
		return err
	}
	h, err = r.RouteFor(ctx, tenantID)
	if err != nil {
		return err
	}
	return h.WithConn(ctx, fn)
}

// lookup 命中缓存且句柄未关闭时返回
func (r *ConnRouter) lookup(tenantID string) (*Handle, bool) {
	v, ok := r.handles.Load(tenantID)
	if !ok {
		return nil, false
	}
	h := v.(*Handle)
	if h.closed.Load() {
		r.handles.Delete(tenantID)
		return nil, false
	}
	return h, true
}

func (r *ConnRouter) buildHandle(ctx context.Context, tenant *entity.Tenant) (*Handle, error) {
	cfg := handleConfig{
		stamper:        r.stamper,
		setSchema:      r.setSchema,
		acquireTimeout: r.cfg.AcquireTimeout,
		queryTimeout:   r.cfg.QueryTimeout,
	}

	switch tenant.Strategy {
	case entity.StrategySharedStorage:
		return newHandle(tenant, r.shared, cfg), nil

	case entity.StrategyDedicatedSchema:
		mapping, err := r.schemas.GetByTenantID(ctx, tenant.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "查询租户 Schema 映射失败")
		}
		if mapping == nil || !mapping.Active {
			return nil, apperrors.ErrTenantUnavailable.WithDetail("租户隔离单元不存在或已停用")
		}
		cfg.schema = mapping.SchemaName
		return newHandle(tenant, r.shared, cfg), nil

	case entity.StrategyDedicatedDatabase:
		if tenant.DatabaseDSN == "" {
			return nil, apperrors.ErrProvisioningFailed.WithDetail("租户缺少独立库连接信息")
		}
		db, err := r.opener(tenant.DatabaseDSN, r.cfg)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "打开租户独立连接池失败")
		}
		return newHandle(tenant, db, cfg), nil

	default:
		return nil, apperrors.ErrInvalidStrategy.WithDetail(string(tenant.Strategy))
	}
}

// Evict 立即淘汰指定租户的句柄
//
// 句柄仍有借出者时仅标记待清理，由后台清扫在归零后关闭
func (r *ConnRouter) Evict(ctx context.Context, tenantID string) bool {
	v, ok := r.handles.Load(tenantID)
	if !ok {
		return false
	}
	h := v.(*Handle)
	if !h.mu.TryLock() {
		logger.Warn(ctx, "租户句柄仍在使用，延迟淘汰", "tenant_id", tenantID, "borrowers", h.Borrowers())
		return false
	}
	defer h.mu.Unlock()

	r.handles.Delete(tenantID)
	h.close()
	metrics.HandlesOpen.WithLabelValues(string(h.strategy)).Dec()
	metrics.HandleEvictions.WithLabelValues(string(h.strategy), "manual").Inc()
	return true
}

// Sweep 淘汰空闲超过阈值且无借出者的句柄，返回淘汰数量
func (r *ConnRouter) Sweep(ctx context.Context) int {
	now := time.Now()
	evicted := 0
	r.handles.Range(func(key, value any) bool {
		h := value.(*Handle)
		if h.borrowers.Load() > 0 || h.idleFor(now) < r.cfg.HandleIdleTimeout {
			return true
		}
		if !h.mu.TryLock() {
			return true
		}
		// 拿到写锁后重验空闲条件，借出可能在检查与加锁之间发生
		if h.borrowers.Load() > 0 || h.idleFor(time.Now()) < r.cfg.HandleIdleTimeout {
			h.mu.Unlock()
			return true
		}
		r.handles.Delete(key)
		h.close()
		h.mu.Unlock()
		metrics.HandlesOpen.WithLabelValues(string(h.strategy)).Dec()
		metrics.HandleEvictions.WithLabelValues(string(h.strategy), "idle").Inc()
		evicted++
		return true
	})
	if evicted > 0 {
		logger.Info(ctx, "空闲句柄已淘汰", "evicted", evicted, "remaining", r.Size())
	}
	return evicted
}

// Start 启动后台空闲清扫
func (r *ConnRouter) Start() {
	r.startOnce.Do(func() {
		r.started = true
		go func() {
			defer close(r.sweepDone)
			ticker := time.NewTicker(r.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.Sweep(context.Background())
				case <-r.sweepStop:
					return
				}
			}
		}()
	})
}

// Stop 停止清扫并关闭全部句柄
func (r *ConnRouter) Stop() {
	r.stopOnce.Do(func() {
		close(r.sweepStop)
		if r.started {
			<-r.sweepDone
		}
		r.handles.Range(func(key, value any) bool {
			h := value.(*Handle)
			h.mu.Lock()
			r.handles.Delete(key)
			h.close()
			h.mu.Unlock()
			metrics.HandlesOpen.WithLabelValues(string(h.strategy)).Dec()
			return true
		})
	})
}

// Size 当前缓存的句柄数量
func (r *ConnRouter) Size() int {
	n := 0
	r.handles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
