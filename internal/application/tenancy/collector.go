package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/pkg/logger"
	"resto-ops-api/pkg/metrics"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MetricsCache 租户指标的缓存端口，由 Redis 实现
type MetricsCache interface {
	GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func() (interface{}, error)) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// Collector 租户活动采集与指标聚合
//
// 活动记录走异步通道落库，调用方发完即走，绝不因为
// 审计写失败而拖垮业务路径；指标聚合按租户句柄读数，
// 部分失败时带 Incomplete 标记返回而不是整体报错
type Collector struct {
	activities repository.ActivityRepository
	router     *ConnRouter
	cache      MetricsCache
	tables     []string
	cacheTTL   time.Duration

	buf      chan *entity.ActivityRecord
	flushCtx time.Duration
	done     chan struct{}
	once     sync.Once

	// mu 保护 closed 与向 buf 的发送：Close 持写锁后
	// 才关闭通道，Log 在读锁内发送，不会撞上已关闭的通道
	mu     sync.RWMutex
	closed bool
}

// NewCollector 创建活动采集器
func NewCollector(
	activities repository.ActivityRepository,
	router *ConnRouter,
	cache MetricsCache,
	tenancyCfg config.TenancyConfig,
) *Collector {
	return &Collector{
		activities: activities,
		router:     router,
		cache:      cache,
		tables:     tenancyCfg.SharedTables,
		cacheTTL:   tenancyCfg.MetricsCacheTTL,
		buf:        make(chan *entity.ActivityRecord, tenancyCfg.Activity.BufferSize),
		flushCtx:   tenancyCfg.Activity.FlushTimeout,
		done:       make(chan struct{}),
	}
}

// Start 启动后台落库协程
func (c *Collector) Start() {
	go c.drain()
}

func (c *Collector) drain() {
	defer close(c.done)
	for record := range c.buf {
		ctx, cancel := context.WithTimeout(context.Background(), c.flushCtx)
		if err := c.activities.Create(ctx, record); err != nil {
			metrics.ActivityDropped.WithLabelValues("write_failed").Inc()
			logger.Warn(ctx, "活动记录落库失败",
				"tenant_id", record.TenantID,
				"activity_type", record.ActivityType,
				"error", err,
			)
		} else {
			metrics.ActivityLogged.WithLabelValues(record.ActivityType).Inc()
		}
		cancel()
	}
}

// Log 记录一条租户活动，发完即走
//
// 缓冲满时丢弃并计数，绝不阻塞调用方
func (c *Collector) Log(ctx context.Context, tenantID, activityType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		metrics.ActivityDropped.WithLabelValues("marshal_failed").Inc()
		logger.Warn(ctx, "活动负载序列化失败", "activity_type", activityType, "error", err)
		return
	}
	record := &entity.ActivityRecord{
		TenantID:     tenantID,
		ActivityType: activityType,
		Payload:      string(raw),
		CreatedAt:    time.Now(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		metrics.ActivityDropped.WithLabelValues("collector_closed").Inc()
		logger.Warn(ctx, "采集器已关停，记录被丢弃",
			"tenant_id", tenantID, "activity_type", activityType)
		return
	}
	select {
	case c.buf <- record:
	default:
		metrics.ActivityDropped.WithLabelValues("buffer_full").Inc()
		logger.Warn(ctx, "活动缓冲已满，记录被丢弃",
			"tenant_id", tenantID, "activity_type", activityType)
	}
}

// Close 停止接收并等待缓冲排空
func (c *Collector) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.buf)
		<-c.done
	})
}

// TenantMetrics 租户运营指标
type TenantMetrics struct {
	TenantID       string                   `json:"tenant_id"`
	Strategy       string                   `json:"strategy"`
	EntityCounts   map[string]int64         `json:"entity_counts"`
	ActivityCounts map[string]int64         `json:"activity_counts"`
	RecentActivity []*entity.ActivityRecord `json:"recent_activity"`
	Incomplete     bool                     `json:"incomplete"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// Metrics 聚合租户的运营指标
//
// 结果按租户缓存一段时间；某张表或某个子查询失败时
// 跳过该项并置 Incomplete，只有租户本身无法解析才返回错误
func (c *Collector) Metrics(ctx context.Context, tenantID string, days int) (*TenantMetrics, error) {
	ctx, span := tracer.Start(ctx, "Collector.Metrics")
	defer span.End()

	if c.cache == nil {
		return c.computeMetrics(ctx, tenantID, days)
	}

	key := buildMetricsCacheKey(tenantID, days)
	raw, err := c.cache.GetOrLoadSafe(ctx, key, c.cacheTTL, func() (interface{}, error) {
		return c.computeMetrics(ctx, tenantID, days)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var m TenantMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		// 缓存内容损坏时直接重算
		logger.Warn(ctx, "指标缓存内容无法解析，回退实时计算", "key", key, "error", err)
		return c.computeMetrics(ctx, tenantID, days)
	}
	return &m, nil
}

// InvalidateMetrics 在租户数据变更后清掉指标缓存
func (c *Collector) InvalidateMetrics(ctx context.Context, tenantID string, days ...int) {
	if c.cache == nil {
		return
	}
	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, buildMetricsCacheKey(tenantID, d))
	}
	if len(keys) == 0 {
		keys = append(keys, buildMetricsCacheKey(tenantID, defaultMetricsDays))
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		logger.Warn(ctx, "指标缓存清理失败", "tenant_id", tenantID, "error", err)
	}
}

const defaultMetricsDays = 7

func buildMetricsCacheKey(tenantID string, days int) string {
	return fmt.Sprintf("metrics:%s:%d", tenantID, days)
}

func (c *Collector) computeMetrics(ctx context.Context, tenantID string, days int) (*TenantMetrics, error) {
	if days <= 0 {
		days = defaultMetricsDays
	}

	handle, err := c.router.RouteFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	m := &TenantMetrics{
		TenantID:       tenantID,
		Strategy:       string(handle.Strategy()),
		EntityCounts:   make(map[string]int64, len(c.tables)),
		ActivityCounts: make(map[string]int64),
		GeneratedAt:    time.Now(),
	}

	// 实体行数走租户自己的句柄：共享存储由 RLS 过滤，
	// 专属 Schema 由 search_path 指向，独立库天然只有自己的数据
	err = c.router.WithConn(ctx, tenantID, func(txCtx context.Context, tx *gorm.DB) error {
		for _, table := range c.tables {
			var count int64
			q := fmt.Sprintf("SELECT count(*) FROM %s", pq.QuoteIdentifier(table))
			if err := tx.Raw(q).Scan(&count).Error; err != nil {
				m.Incomplete = true
				logger.Warn(txCtx, "实体计数失败", "tenant_id", tenantID, "table", table, "error", err)
				continue
			}
			m.EntityCounts[table] = count
		}
		return nil
	})
	if err != nil {
		m.Incomplete = true
		logger.Warn(ctx, "实体计数借用句柄失败", "tenant_id", tenantID, "error", err)
	}

	since := time.Now().AddDate(0, 0, -days)

	counts, err := c.activities.CountByType(ctx, tenantID, since)
	if err != nil {
		m.Incomplete = true
		logger.Warn(ctx, "活动分类统计失败", "tenant_id", tenantID, "error", err)
	} else {
		m.ActivityCounts = counts
	}

	recent, err := c.activities.ListRecent(ctx, tenantID, since, recentActivityLimit)
	if err != nil {
		m.Incomplete = true
		logger.Warn(ctx, "最近活动查询失败", "tenant_id", tenantID, "error", err)
	} else {
		m.RecentActivity = recent
	}

	return m, nil
}

const recentActivityLimit = 20
