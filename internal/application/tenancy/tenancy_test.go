package tenancy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 打开共享缓存的内存 SQLite，库名随测试名隔离
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		HandleIdleTimeout:     time.Minute,
		SweepInterval:         time.Minute,
		AcquireTimeout:        2 * time.Second,
		QueryTimeout:          5 * time.Second,
		DedicatedMaxOpenConns: 2,
		DedicatedMaxIdleConns: 1,
	}
}

type fakeTenantRepo struct {
	mu          sync.Mutex
	tenants     map[string]*entity.Tenant
	failGetAll  bool
	getAllCalls int
}

func newFakeTenantRepo(tenants ...*entity.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{tenants: make(map[string]*entity.Tenant)}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *fakeTenantRepo) Create(_ context.Context, tenant *entity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id string) (*entity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenants[id], nil
}

func (r *fakeTenantRepo) GetBySlug(_ context.Context, slug string) (*entity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, nil
}

func (r *fakeTenantRepo) GetAll(_ context.Context) ([]*entity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getAllCalls++
	if r.failGetAll {
		return nil, fmt.Errorf("catalog unreachable")
	}
	out := make([]*entity.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTenantRepo) Update(_ context.Context, tenant *entity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *fakeTenantRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
	return nil
}

func (r *fakeTenantRepo) List(_ context.Context, _ repository.TenantFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.Tenant], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return repository.NewPagedResult(out, int64(len(out)), pagination), nil
}

func (r *fakeTenantRepo) UpdateStatus(_ context.Context, id string, status entity.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		t.Status = status
	}
	return nil
}

func (r *fakeTenantRepo) ExistsBySlug(_ context.Context, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

type fakeSchemaRepo struct {
	mu        sync.Mutex
	mappings  map[string]*entity.TenantSchema
	createErr error
}

func newFakeSchemaRepo() *fakeSchemaRepo {
	return &fakeSchemaRepo{mappings: make(map[string]*entity.TenantSchema)}
}

func (r *fakeSchemaRepo) Create(_ context.Context, mapping *entity.TenantSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.mappings[mapping.TenantID] = mapping
	return nil
}

func (r *fakeSchemaRepo) GetByTenantID(_ context.Context, tenantID string) (*entity.TenantSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mappings[tenantID], nil
}

func (r *fakeSchemaRepo) Deactivate(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.mappings[tenantID]; ok {
		m.Active = false
	}
	return nil
}

type fakeTenantCtx struct {
	mu      sync.Mutex
	current string
	stamps  []string
}

func (f *fakeTenantCtx) SetTenant(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = tenantID
	f.stamps = append(f.stamps, tenantID)
	return nil
}

func (f *fakeTenantCtx) GetCurrentTenant(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTenantCtx) ClearTenant(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ""
	return nil
}

func (f *fakeTenantCtx) stampCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stamps)
}

type fakeActivityRepo struct {
	mu        sync.Mutex
	records   []*entity.ActivityRecord
	counts    map[string]int64
	recent    []*entity.ActivityRecord
	createErr error
	queryErr  error
}

func newFakeActivityRepo() *fakeActivityRepo {
	return &fakeActivityRepo{counts: make(map[string]int64)}
}

func (r *fakeActivityRepo) Create(_ context.Context, record *entity.ActivityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeActivityRepo) ListRecent(_ context.Context, _ string, _ time.Time, _ int) ([]*entity.ActivityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return r.recent, nil
}

func (r *fakeActivityRepo) CountByType(_ context.Context, _ string, _ time.Time) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	return r.counts, nil
}

func (r *fakeActivityRepo) stored() []*entity.ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.ActivityRecord, len(r.records))
	copy(out, r.records)
	return out
}

type fakeSessions struct {
	db *gorm.DB
}

func (f *fakeSessions) Session(ctx context.Context) *gorm.DB {
	return f.db.WithContext(ctx)
}

// loadedRegistry 构建并完成首次加载的注册表
func loadedRegistry(t *testing.T, tenants ...*entity.Tenant) (*Registry, *fakeTenantRepo) {
	t.Helper()
	repo := newFakeTenantRepo(tenants...)
	reg := NewRegistry(repo)
	require.NoError(t, reg.Load(context.Background()))
	return reg, repo
}
