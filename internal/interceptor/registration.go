package interceptor

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/PXR05/ctrlt/internal/cache"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/manifest"
)

// RegistrationOptions 是所有代数共享的依赖。
type RegistrationOptions struct {
	Origin      *url.URL
	Storage     cache.Storage
	Fetcher     Fetcher
	Clients     *Clients
	Logger      *logrus.Logger
	Tracer      trace.Tracer
	Concurrency int
}

// Registration 持有当前激活的 Interceptor，并在清单更新时完成替换。
type Registration struct {
	opts   RegistrationOptions
	logger *logrus.Entry

	// mu 串行化 Update，同一时刻只有一个代数在安装。
	mu     sync.Mutex
	active atomic.Pointer[Interceptor]
}

// NewRegistration 创建尚无激活代数的 Registration。
func NewRegistration(opts RegistrationOptions) *Registration {
	if opts.Clients == nil {
		opts.Clients = NewClients(0)
	}
	return &Registration{
		opts:   opts,
		logger: logging.Component(opts.Logger, "registration"),
	}
}

// Clients 返回共享的客户端集合。
func (r *Registration) Clients() *Clients { return r.opts.Clients }

// Active 返回当前激活的实例，尚未激活时为 nil。
func (r *Registration) Active() *Interceptor { return r.active.Load() }

// Update 按清单安装并激活新代数，随后等待旧实例的在途请求结束。
// 版本未变化时直接返回当前实例；安装失败时旧实例继续服务。
func (r *Registration) Update(ctx context.Context, m *manifest.Manifest) (*Interceptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.active.Load()
	if prev != nil && prev.Name() == m.CacheName() {
		r.logger.WithFields(logrus.Fields{"action": "update", "generation": prev.Name()}).Info("generation_unchanged")
		return prev, nil
	}

	next, err := New(Options{
		Manifest:    m,
		Origin:      r.opts.Origin,
		Storage:     r.opts.Storage,
		Fetcher:     r.opts.Fetcher,
		Clients:     r.opts.Clients,
		Logger:      r.opts.Logger,
		Tracer:      r.opts.Tracer,
		Concurrency: r.opts.Concurrency,
		Predecessor: prev,
	})
	if err != nil {
		return nil, err
	}
	if err := next.Install(ctx); err != nil {
		return nil, err
	}
	if err := next.Activate(ctx); err != nil {
		return nil, err
	}
	r.active.Store(next)

	if prev != nil {
		if err := prev.Wait(ctx); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "update",
				"generation": prev.Name(),
			}).Warn("predecessor_drain_interrupted")
		}
	}
	return next, nil
}

// Serve 交给当前激活实例处理；尚未激活时请求直接走网络。
func (r *Registration) Serve(ctx context.Context, req *Request) (*Outcome, error) {
	if active := r.active.Load(); active != nil {
		return active.Serve(ctx, req)
	}
	resp, err := r.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{Response: resp, Route: RoutePassthrough}, nil
}

// Status 返回当前实例的诊断快照，尚未激活时状态为空。
func (r *Registration) Status() Status {
	if active := r.active.Load(); active != nil {
		return active.Status()
	}
	return Status{}
}

// Wait 等待当前实例的在途请求结束，用于进程退出前的收尾。
func (r *Registration) Wait(ctx context.Context) error {
	if active := r.active.Load(); active != nil {
		return active.Wait(ctx)
	}
	return nil
}
