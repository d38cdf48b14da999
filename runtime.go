package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/cache"
	"github.com/PXR05/ctrlt/internal/config"
	"github.com/PXR05/ctrlt/internal/eventlog"
	"github.com/PXR05/ctrlt/internal/interceptor"
	"github.com/PXR05/ctrlt/internal/kv"
	"github.com/PXR05/ctrlt/internal/manifest"
	"github.com/PXR05/ctrlt/internal/proxy"
	"github.com/PXR05/ctrlt/internal/server"
	"github.com/PXR05/ctrlt/internal/server/routes"
	"github.com/PXR05/ctrlt/internal/state"
	"github.com/PXR05/ctrlt/internal/telemetry"
)

// shutdownTimeout 限制优雅退出时等待在途请求与落盘的时间。
const shutdownTimeout = 10 * time.Second

// runtime 持有进程内共享的全部组件，按构造的逆序关闭。
type runtime struct {
	cfg    *config.Config
	logger *logrus.Logger

	kvStorage    kv.Storage
	cacheStorage cache.Storage
	states       *state.Registry
	events       *eventlog.Log
	registration *interceptor.Registration
	app          *fiber.App

	// done 关闭后 SSE 流全部结束，Fiber 才能完成 shutdown。
	done chan struct{}
}

func newRuntime(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, done: make(chan struct{})}
	ready := false
	defer func() {
		if !ready {
			_ = rt.close(context.Background())
		}
	}()

	origin, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		return nil, fmt.Errorf("解析 Upstream 失败: %w", err)
	}

	rt.kvStorage, err = openStateStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化状态存储失败: %w", err)
	}

	rt.states, err = state.NewRegistry(rt.kvStorage, cfg.States, cfg.Global.SaveDebounce.DurationValue(), logger)
	if err != nil {
		return nil, fmt.Errorf("构建状态域失败: %w", err)
	}
	rt.states.Initialize(ctx)

	rt.events = eventlog.New(rt.kvStorage,
		eventlog.WithMaxEvents(cfg.Global.EventLogMax),
		eventlog.WithLogger(logger),
	)
	if err := rt.events.Load(ctx); err != nil {
		return nil, fmt.Errorf("加载出站事件失败: %w", err)
	}

	rt.cacheStorage, err = cache.Open(cfg.Global.CacheBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	rt.registration = interceptor.NewRegistration(interceptor.RegistrationOptions{
		Origin:      origin,
		Storage:     rt.cacheStorage,
		Fetcher:     proxy.NewUpstreamFetcher(server.NewUpstreamClient(cfg.Global)),
		Clients:     interceptor.NewClients(0),
		Logger:      logger,
		Tracer:      telemetry.Tracer("github.com/PXR05/ctrlt/internal/interceptor"),
		Concurrency: cfg.Global.InstallConcurrency,
	})

	handler := proxy.NewHandler(rt.registration, origin, logger)
	rt.app, err = server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}

	reload := func() (*manifest.Manifest, error) {
		return manifest.Load(cfg.Global.ManifestPath)
	}
	routes.RegisterDiagnosticsRoutes(rt.app, rt.registration, rt.states, reload, logger)
	routes.RegisterEventRoutes(rt.app, rt.registration.Clients(), rt.done, logger)
	routes.RegisterOutboundRoutes(rt.app, rt.events, logger)
	routes.RegisterStateRoutes(rt.app, rt.states, logger)

	logger.WithFields(logrus.Fields{
		"action":        "runtime_ready",
		"config_path":   configPath,
		"cache_backend": cfg.Global.CacheBackend,
		"state_backend": cfg.Global.StateBackend,
	}).Debug("runtime_ready")
	ready = true
	return rt, nil
}

// openStateStorage 按 StateBackend 打开持久化存储；sqlite 的数据库文件位于 StatePath 目录下。
func openStateStorage(g config.GlobalConfig) (kv.Storage, error) {
	path := g.StatePath
	if g.StateBackend == config.StateBackendSQLite {
		path = filepath.Join(g.StatePath, "state.db")
	}
	return kv.Open(g.StateBackend, path)
}

// refresh 读取清单并安装新代数，版本未变时为空操作。
func (rt *runtime) refresh(ctx context.Context) error {
	m, err := manifest.Load(rt.cfg.Global.ManifestPath)
	if err != nil {
		return err
	}
	_, err = rt.registration.Update(ctx, m)
	return err
}

// serve 监听端口直到 ctx 结束，随后关闭事件流并优雅停止 Fiber。
func (rt *runtime) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.app.Listen(fmt.Sprintf(":%d", rt.cfg.Global.ListenPort), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	rt.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   rt.cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.logger.WithField("action", "shutdown").Info("收到退出信号")
	rt.stopStreams()
	if err := rt.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	return <-errCh
}

func (rt *runtime) stopStreams() {
	select {
	case <-rt.done:
	default:
		close(rt.done)
	}
}

// close 等待在途请求，提交状态写入，再释放存储。可重复调用。
func (rt *runtime) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	rt.stopStreams()

	var errs []error
	if rt.registration != nil {
		if err := rt.registration.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain interceptor: %w", err))
		}
	}
	if rt.states != nil {
		if err := rt.states.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close states: %w", err))
		}
	}
	if rt.events != nil {
		if err := rt.events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event log: %w", err))
		}
	}
	if rt.cacheStorage != nil {
		if err := rt.cacheStorage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache storage: %w", err))
		}
		rt.cacheStorage = nil
	}
	if rt.kvStorage != nil {
		if err := rt.kvStorage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state storage: %w", err))
		}
		rt.kvStorage = nil
	}
	return errors.Join(errs...)
}
