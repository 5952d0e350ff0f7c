package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/wire"
	"resto-ops-api/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 初始化租户核心组件（仅 PostgreSQL）
	layer, cleanup, err := wire.InitializeTenancyLayer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize tenancy layer: %v", err)
	}
	defer cleanup()

	// 3. 迁移主目录库表结构
	fmt.Println("Migrating catalog schema...")
	if err := layer.PgClient.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate catalog schema: %v", err)
	}

	// 4. 共享租户表全部切换到 FORCE RLS 模式
	// 不做这一步的话，应用以表属主角色连接时 RLS 形同虚设
	fmt.Println("Enforcing FORCE row level security on shared tables...")
	if err := layer.Enforcer.EnforceForceMode(ctx, cfg.Tenancy.SharedTables); err != nil {
		log.Fatalf("failed to enforce row level security: %v", err)
	}

	// 5. 创建默认租户（共享存储策略）
	defaultTenantSlug := os.Getenv("BOOTSTRAP_TENANT_SLUG")
	if defaultTenantSlug == "" {
		defaultTenantSlug = "default-restaurant"
	}

	exists, err := layer.TenantRepo.ExistsBySlug(ctx, defaultTenantSlug)
	if err != nil {
		log.Fatalf("failed to check tenant existence: %v", err)
	}

	if !exists {
		fmt.Printf("Creating default tenant: %s...\n", defaultTenantSlug)
		tenant := entity.NewTenant("Default Restaurant", defaultTenantSlug, entity.StrategySharedStorage)
		apiKey, err := utils.GenerateAPIKey()
		if err != nil {
			log.Fatalf("failed to generate api key: %v", err)
		}
		tenant.APIKey = apiKey

		if err := layer.TenantRepo.Create(ctx, tenant); err != nil {
			log.Fatalf("failed to create default tenant: %v", err)
		}
		fmt.Printf("Default tenant created with ID: %s\n", tenant.ID)
		fmt.Printf("API key (shown once): %s\n", apiKey)
	} else {
		tenant, err := layer.TenantRepo.GetBySlug(ctx, defaultTenantSlug)
		if err != nil {
			log.Fatalf("failed to get existing tenant: %v", err)
		}
		fmt.Printf("Default tenant already exists with ID: %s\n", tenant.ID)
	}

	fmt.Println("Bootstrap completed successfully.")
}
