package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"stockmaster/internal/config"
	"stockmaster/internal/controller"
	"stockmaster/internal/model"
	"stockmaster/internal/mq"
	"stockmaster/internal/repository"
	"stockmaster/internal/router"
	"stockmaster/internal/service"
	"stockmaster/internal/task"
	"stockmaster/pkg/database"
	"stockmaster/pkg/lock"
	"stockmaster/pkg/logger"
)

func main() {
	// 1. 配置与日志
	cfg := config.Load()
	logger.Init(cfg.Debug)
	defer logger.Sync()

	// 2. 初始化数据库
	db := initDatabase(cfg)

	// 3. 初始化依赖
	deps := initDependencies(cfg, db)

	// 4. 启动后台任务与事件消费者
	deps.TaskManager.Start()
	startConsumer(deps)

	// 5. 初始化路由并启动服务
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	router.InitRoutes(r,
		deps.Controllers.Webhook,
		deps.Controllers.Sync,
		deps.Controllers.Rule,
		deps.Controllers.Product,
	)

	startServer(cfg, r, deps)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Services    *Services
	TaskManager *task.TaskManager
	Controllers *Controllers
	Consumer    *mq.Consumer

	consumerCancel context.CancelFunc
}

// Repositories 仓库集合
type Repositories struct {
	Store     repository.StoreRepository
	Product   repository.ProductRepository
	Inventory repository.InventoryRepository
	Rule      repository.RuleRepository
}

// Services 服务集合
type Services struct {
	Notifier  service.Notifier
	Rule      *service.RuleService
	Sync      *service.SyncService
	Inventory *service.InventoryService
}

// Controllers 控制器集合
type Controllers struct {
	Webhook *controller.WebhookController
	Sync    *controller.SyncController
	Rule    *controller.RuleController
	Product *controller.ProductController
}

// ==================== 初始化函数 ====================

// initDatabase 初始化数据库
func initDatabase(cfg *config.Config) *gorm.DB {
	return database.InitDB(cfg.DatabaseDSN, cfg.Debug,
		// Store
		&model.Store{}, &model.Webhook{},
		// Catalog
		&model.Product{}, &model.ProductVariant{},
		// Inventory
		&model.InventoryLocation{}, &model.InventoryLevel{}, &model.InventoryLog{},
		// Rule
		&model.Rule{}, &model.RuleApplication{},
		// Notification
		&model.NotificationLog{},
	)
}

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Store:     repository.NewStoreRepository(db),
		Product:   repository.NewProductRepository(db),
		Inventory: repository.NewInventoryRepository(db),
		Rule:      repository.NewRuleRepository(db),
	}

	// -------- 基础设施 --------
	sessions := service.NewSessionFactory(cfg.ShopifyAPIVersion)
	locker := initLocker(cfg)

	// -------- 业务服务 --------
	services := &Services{}
	services.Notifier = service.NewWebhookNotifier(db, cfg.NotifyWebhookURL)
	services.Rule = service.NewRuleService(db,
		repos.Rule, repos.Product, repos.Inventory, repos.Store,
		sessions, services.Notifier)
	services.Sync = service.NewSyncService(
		repos.Store, repos.Product, repos.Inventory,
		services.Rule, sessions, locker)
	services.Inventory = service.NewInventoryService(
		repos.Store, repos.Product, repos.Inventory, services.Sync)

	// -------- 后台任务 --------
	taskManager := task.NewTaskManager(
		&task.TaskManagerDeps{
			StoreRepo:   repos.Store,
			RuleRepo:    repos.Rule,
			SyncService: services.Sync,
			RuleService: services.Rule,
		},
		&task.TaskManagerConfig{
			SyncEnabled:         true,
			SyncIntervalMinutes: cfg.SyncIntervalMinutes,
			SyncConcurrency:     cfg.SyncConcurrency,
			SyncMaxAttempts:     cfg.SyncMaxAttempts,
			SyncRetryDelay:      cfg.SyncRetryDelay,
			WebhookCallbackURL:  cfg.WebhookCallbackURL,
			PollerEnabled:       true,
			PollerConcurrency:   cfg.PollerConcurrency,
			PollerBatchSize:     cfg.PollerBatchSize,
		},
	)

	// -------- 事件总线（可选）--------
	deps := &Dependencies{
		DB:          db,
		Repos:       repos,
		Services:    services,
		TaskManager: taskManager,
	}

	var webhookCtl *controller.WebhookController
	if len(cfg.KafkaBrokers) > 0 {
		writer := mq.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		reader := mq.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		deps.Consumer = mq.NewConsumer(reader, services.Inventory)
		webhookCtl = controller.NewWebhookController(writer, services.Inventory, cfg.WebhookSecret)
	} else {
		webhookCtl = controller.NewWebhookController(nil, services.Inventory, cfg.WebhookSecret)
	}

	// -------- Controller 层 --------
	deps.Controllers = &Controllers{
		Webhook: webhookCtl,
		Sync:    controller.NewSyncController(taskManager),
		Rule:    controller.NewRuleController(repos.Rule),
		Product: controller.NewProductController(repos.Product, repos.Inventory),
	}

	return deps
}

// initLocker 有 Redis 用跨进程锁，否则退化为进程内锁
func initLocker(cfg *config.Config) lock.Locker {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.L().Warnf("Redis 连接失败，退化为进程内锁: %v", err)
		return lock.NewLocalLocker()
	}
	return lock.NewRedisLocker(client)
}

// startConsumer 启动 Kafka 消费者（未配置时跳过）
func startConsumer(deps *Dependencies) {
	if deps.Consumer == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	deps.consumerCancel = cancel
	go deps.Consumer.Start(ctx)
}

// ==================== 服务启动 ====================

// startServer 启动服务并处理优雅退出
func startServer(cfg *config.Config, r *gin.Engine, deps *Dependencies) {
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		logger.L().Infof("服务启动，监听 :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info("收到退出信号，正在关闭...")

	// 先停后台任务与消费者，再关 HTTP
	deps.TaskManager.Stop()
	if deps.consumerCancel != nil {
		deps.consumerCancel()
	}
	if deps.Consumer != nil {
		if err := deps.Consumer.Close(); err != nil {
			logger.L().Warnf("关闭消费者出错: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.L().Errorf("服务关闭出错: %v", err)
	}
	logger.L().Info("服务已退出")
}
