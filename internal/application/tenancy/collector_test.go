package tenancy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/entity"
	apperrors "resto-ops-api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTenancyConfig(bufferSize int, tables ...string) config.TenancyConfig {
	if len(tables) == 0 {
		tables = []string{"menu_items"}
	}
	return config.TenancyConfig{
		SharedTables:    tables,
		Router:          testRouterConfig(),
		MetricsCacheTTL: time.Minute,
		Activity: config.ActivityConfig{
			BufferSize:   bufferSize,
			FlushTimeout: time.Second,
		},
	}
}

func TestCollectorLogFireAndForget(t *testing.T) {
	activities := newFakeActivityRepo()
	c := NewCollector(activities, nil, nil, testTenancyConfig(16))
	c.Start()

	c.Log(context.Background(), "tenant-a", entity.ActivityTenantCreated, map[string]any{"slug": "golden-wok"})
	c.Log(context.Background(), "tenant-a", entity.ActivityKeyRotated, nil)
	c.Close()

	stored := activities.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "tenant-a", stored[0].TenantID)
	assert.Equal(t, entity.ActivityTenantCreated, stored[0].ActivityType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored[0].Payload), &payload))
	assert.Equal(t, "golden-wok", payload["slug"])
}

func TestCollectorDropsWhenBufferFull(t *testing.T) {
	activities := newFakeActivityRepo()
	// 不启动后台协程，缓冲只有一格
	c := NewCollector(activities, nil, nil, testTenancyConfig(1))

	c.Log(context.Background(), "tenant-a", entity.ActivityTenantCreated, nil)
	c.Log(context.Background(), "tenant-a", entity.ActivityTenantUpdated, nil)
	c.Log(context.Background(), "tenant-a", entity.ActivityKeyRotated, nil)

	c.Start()
	c.Close()

	// 溢出的记录被丢弃而不是阻塞调用方
	stored := activities.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, entity.ActivityTenantCreated, stored[0].ActivityType)
}

func TestCollectorLogAfterCloseIsDropped(t *testing.T) {
	activities := newFakeActivityRepo()
	c := NewCollector(activities, nil, nil, testTenancyConfig(16))
	c.Start()

	c.Log(context.Background(), "tenant-a", entity.ActivityTenantCreated, nil)
	c.Close()

	// 关停后的记录丢弃而不是崩溃
	require.NotPanics(t, func() {
		c.Log(context.Background(), "tenant-a", entity.ActivityTenantUpdated, nil)
	})
	require.NotPanics(t, c.Close)

	stored := activities.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, entity.ActivityTenantCreated, stored[0].ActivityType)
}

func TestCollectorSurvivesWriteFailure(t *testing.T) {
	activities := newFakeActivityRepo()
	activities.createErr = assert.AnError
	c := NewCollector(activities, nil, nil, testTenancyConfig(16))
	c.Start()

	// 落库失败只计数告警，Close 正常返回
	c.Log(context.Background(), "tenant-a", entity.ActivityTenantCreated, nil)
	c.Close()
	assert.Empty(t, activities.stored())
}

func newMetricsFixture(t *testing.T) (*Collector, *fakeActivityRepo, *entity.Tenant) {
	t.Helper()
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	cfg := testTenancyConfig(16, "menu_items", "orders")

	router, db, _, _ := newTestRouter(t, cfg.Router, tenant)
	t.Cleanup(router.Stop)
	require.NoError(t, db.Exec("CREATE TABLE menu_items (id INTEGER PRIMARY KEY, tenant_id TEXT)").Error)
	require.NoError(t, db.Exec("CREATE TABLE orders (id INTEGER PRIMARY KEY, tenant_id TEXT)").Error)
	require.NoError(t, db.Exec("INSERT INTO menu_items (tenant_id) VALUES (?), (?), (?)",
		tenant.ID, tenant.ID, tenant.ID).Error)
	require.NoError(t, db.Exec("INSERT INTO orders (tenant_id) VALUES (?)", tenant.ID).Error)

	activities := newFakeActivityRepo()
	activities.counts = map[string]int64{entity.ActivityTenantCreated: 1}
	activities.recent = []*entity.ActivityRecord{
		{TenantID: tenant.ID, ActivityType: entity.ActivityTenantCreated},
	}
	return NewCollector(activities, router, nil, cfg), activities, tenant
}

func TestCollectorMetrics(t *testing.T) {
	c, _, tenant := newMetricsFixture(t)

	m, err := c.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)

	assert.Equal(t, tenant.ID, m.TenantID)
	assert.Equal(t, string(entity.StrategySharedStorage), m.Strategy)
	assert.EqualValues(t, 3, m.EntityCounts["menu_items"])
	assert.EqualValues(t, 1, m.EntityCounts["orders"])
	assert.EqualValues(t, 1, m.ActivityCounts[entity.ActivityTenantCreated])
	assert.Len(t, m.RecentActivity, 1)
	assert.False(t, m.Incomplete)
}

func TestCollectorMetricsUnknownTenant(t *testing.T) {
	c, _, _ := newMetricsFixture(t)

	_, err := c.Metrics(context.Background(), "no-such-tenant", 7)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTenantUnavailable))
}

func TestCollectorMetricsPartialFailure(t *testing.T) {
	tenant := entity.NewTenant("Golden Wok", "golden-wok", entity.StrategySharedStorage)
	cfg := testTenancyConfig(16, "menu_items", "no_such_table")

	router, db, _, _ := newTestRouter(t, cfg.Router, tenant)
	t.Cleanup(router.Stop)
	require.NoError(t, db.Exec("CREATE TABLE menu_items (id INTEGER PRIMARY KEY, tenant_id TEXT)").Error)

	activities := newFakeActivityRepo()
	activities.queryErr = assert.AnError
	c := NewCollector(activities, router, nil, cfg)

	// 缺表与活动查询失败都只降级为不完整结果
	m, err := c.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)
	assert.True(t, m.Incomplete)
	assert.Contains(t, m.EntityCounts, "menu_items")
	assert.NotContains(t, m.EntityCounts, "no_such_table")
	assert.Empty(t, m.ActivityCounts)
}

// fakeMetricsCache 记录 loader 调用次数的缓存桩
type fakeMetricsCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	loaderCalls int
	deleted     []string
}

func newFakeMetricsCache() *fakeMetricsCache {
	return &fakeMetricsCache{entries: make(map[string][]byte)}
}

func (f *fakeMetricsCache) GetOrLoadSafe(_ context.Context, key string, _ time.Duration, loader func() (interface{}, error)) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw, ok := f.entries[key]; ok {
		return raw, nil
	}
	f.loaderCalls++
	v, err := loader()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	f.entries[key] = raw
	return raw, nil
}

func (f *fakeMetricsCache) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.entries, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

func TestCollectorMetricsCached(t *testing.T) {
	base, _, tenant := newMetricsFixture(t)
	cache := newFakeMetricsCache()
	base.cache = cache

	m1, err := base.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)
	m2, err := base.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.loaderCalls, "窗口期内的重复查询走缓存")
	assert.Equal(t, m1.EntityCounts, m2.EntityCounts)

	base.InvalidateMetrics(context.Background(), tenant.ID, 7)
	assert.Contains(t, cache.deleted, "metrics:"+tenant.ID+":7")

	_, err = base.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.loaderCalls)
}

func TestCollectorMetricsCorruptCacheFallsBack(t *testing.T) {
	base, _, tenant := newMetricsFixture(t)
	cache := newFakeMetricsCache()
	cache.entries["metrics:"+tenant.ID+":7"] = []byte("{not json")
	base.cache = cache

	m, err := base.Metrics(context.Background(), tenant.ID, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, m.EntityCounts["menu_items"])
}
