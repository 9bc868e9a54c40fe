// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Corphon/SceneChronicle/internal/api"
	"github.com/Corphon/SceneChronicle/internal/config"
	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/di"
	"github.com/Corphon/SceneChronicle/internal/memory"
	"github.com/Corphon/SceneChronicle/internal/services"
	"github.com/Corphon/SceneChronicle/internal/storage"
	"github.com/Corphon/SceneChronicle/internal/utils"

	// 注册 LLM 提供者
	_ "github.com/Corphon/SceneChronicle/internal/llm/providers/anthropic"
	_ "github.com/Corphon/SceneChronicle/internal/llm/providers/openai"
)

// Options tune New beyond the configuration.
type Options struct {
	// Listeners receive session events next to the WebSocket hub.
	Listeners []conversation.Listener
	// NewRand seeds each session's image cadence; nil uses the clock.
	NewRand func() *rand.Rand
	// SkipPresets leaves the store untouched at startup.
	SkipPresets bool
}

// App 持有所有服务，负责按依赖顺序创建与关闭
type App struct {
	config    *config.Config
	container *di.Container
	kv        storage.KV
	files     *storage.FileStorage
	repo      *storage.Repository
	llm       *services.LLMService
	sessions  *conversation.Manager
	hub       *api.Hub
	logger    *utils.Logger
}

// New builds every service from cfg and registers it in a fresh container.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := initLogger(cfg); err != nil {
		return nil, fmt.Errorf("初始化日志系统失败: %w", err)
	}

	a := &App{config: cfg, container: di.NewContainer(), logger: utils.GetLogger()}
	if err := a.initServices(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	a.logger.Info("Application initialized", map[string]interface{}{
		"store":        cfg.Store.Backend,
		"image_store":  cfg.Image.Store,
		"llm_provider": cfg.LLM.Provider,
		"llm_ready":    a.llm.IsReady(),
		"services":     a.container.GetNames(),
	})
	return a, nil
}

func initLogger(cfg *config.Config) error {
	logger := utils.GetLogger()
	level := utils.ParseLogLevel(cfg.Server.LogLevel)
	if cfg.Server.DebugMode {
		level = utils.DEBUG
	}
	logger.SetLogLevel(level)
	if cfg.Server.LogDir == "" {
		return nil
	}
	name := fmt.Sprintf("scenechronicle_%s.log", time.Now().Format("2006-01-02"))
	return utils.InitLogger(filepath.Join(cfg.Server.LogDir, name))
}

// initServices 按依赖顺序初始化服务
func (a *App) initServices(ctx context.Context, opts Options) error {
	cfg := a.config

	kv, err := storage.Open(cfg.Store.Backend, cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	a.kv = kv
	a.repo = storage.NewRepository(kv)
	a.container.Register(di.ServiceConfig, cfg)
	a.container.Register(di.ServiceRepository, a.repo)

	images, err := a.openImageStore()
	if err != nil {
		return err
	}
	if images != nil {
		a.container.Register(di.ServiceImages, images)
	}

	a.llm = services.NewLLMService(cfg.LLM.Provider, cfg.ProviderConfig(), images)
	a.container.Register(di.ServiceLLM, a.llm)

	engine, err := memory.NewEngine(cfg.Policy(), a.llm)
	if err != nil {
		return err
	}

	a.hub = api.NewHub()
	a.container.Register(di.ServiceHub, a.hub)

	deps := conversation.Deps{
		Generator:    a.llm,
		Engine:       engine,
		Listener:     append(conversation.Listeners{a.hub}, opts.Listeners...),
		Timeout:      cfg.LLM.Timeout,
		PromptWindow: cfg.Memory.PromptWindow,
		ImageHistory: cfg.Visual.History,
	}
	if cfg.Image.Enabled {
		deps.Describer = a.llm
		deps.Synthesizer = a.llm
	}
	a.sessions = conversation.NewManager(a.repo, conversation.ManagerOptions{
		Deps:       deps,
		VisualMin:  cfg.Visual.Min,
		VisualMax:  cfg.Visual.Max,
		SessionTTL: cfg.Server.SessionTTL,
		NewRand:    opts.NewRand,
	})
	a.container.Register(di.ServiceSessions, a.sessions)

	if opts.SkipPresets {
		return nil
	}
	presets, err := config.LoadPresets()
	if err != nil {
		return err
	}
	added, err := presets.Seed(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("写入预设失败: %w", err)
	}
	if added > 0 {
		a.logger.Info("Presets seeded", map[string]interface{}{"records": added})
	}
	return nil
}

// openImageStore returns nil when images are returned inline as data URIs.
func (a *App) openImageStore() (services.ImageStore, error) {
	cfg := a.config
	switch cfg.Image.Store {
	case config.ImageStoreLocal:
		fs, err := storage.NewFileStorage(cfg.Server.DataDir)
		if err != nil {
			return nil, fmt.Errorf("创建图片目录失败: %w", err)
		}
		a.files = fs
		return storage.NewLocalImages(fs, cfg.Image.PublicPath), nil
	case config.ImageStoreS3:
		opts := cfg.S3Options()
		return storage.NewS3Images(storage.NewS3Client(opts), opts)
	default:
		return nil, nil
	}
}

// Config 返回应用配置
func (a *App) Config() *config.Config { return a.config }

// Container 返回依赖注入容器
func (a *App) Container() *di.Container { return a.container }

// Repository 返回持久化仓库
func (a *App) Repository() *storage.Repository { return a.repo }

// LLM 返回 LLM 服务
func (a *App) LLM() *services.LLMService { return a.llm }

// Sessions 返回会话管理器
func (a *App) Sessions() *conversation.Manager { return a.sessions }

// Serve runs the HTTP server until ctx ends, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server, err := api.SetupRouter(a.container)
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	defer server.Close()

	srv := &http.Server{
		Addr:              ":" + a.config.Server.Port,
		Handler:           server.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	return nil
}

// Close 按创建的逆序释放资源；会话先结束，保证最后一次持久化完成
func (a *App) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.files != nil {
		a.files.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("Failed to close store", map[string]interface{}{"error": err.Error()})
		}
	}
}
