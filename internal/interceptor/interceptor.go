package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/PXR05/ctrlt/internal/cache"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/manifest"
	"github.com/PXR05/ctrlt/internal/telemetry"
)

// DefaultConcurrency 是安装阶段并发抓取资源的上限。
const DefaultConcurrency = 8

// Fetcher 是网络边界。失败需包装 ErrNetwork；返回的 Response 可被缓存与多次读取。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// Options 描述构造 Interceptor 所需的依赖。
type Options struct {
	Manifest    *manifest.Manifest
	Origin      *url.URL
	Storage     cache.Storage
	Fetcher     Fetcher
	Clients     *Clients
	Logger      *logrus.Logger
	Tracer      trace.Tracer
	Concurrency int
	// Predecessor 是当前正在服务的实例，可为空。
	Predecessor *Interceptor
}

// Outcome 是一次 Serve 的结果。
type Outcome struct {
	Response   *cache.Response
	Route      Route
	CacheHit   bool
	Generation string
}

// Interceptor 持有一个缓存代数，并按状态机完成安装、激活与请求服务。
type Interceptor struct {
	name        string
	version     string
	assets      manifest.AssetSet
	assetList   []string
	origin      *url.URL
	storage     cache.Storage
	fetcher     Fetcher
	clients     *Clients
	logger      *logrus.Entry
	tracer      trace.Tracer
	concurrency int

	mu          sync.Mutex
	state       State
	generation  cache.Generation
	predecessor *Interceptor
	successor   *Interceptor
	inflight    int
	idle        chan struct{}
}

// New 创建处于 parsed 状态的实例。
func New(opts Options) (*Interceptor, error) {
	if opts.Manifest == nil {
		return nil, errors.New("manifest required")
	}
	if opts.Storage == nil || opts.Fetcher == nil {
		return nil, errors.New("cache storage and fetcher required")
	}
	if opts.Clients == nil {
		opts.Clients = NewClients(0)
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer("github.com/PXR05/ctrlt/internal/interceptor")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	name := opts.Manifest.CacheName()
	return &Interceptor{
		name:        name,
		version:     opts.Manifest.Version,
		assets:      opts.Manifest.AssetSet(),
		assetList:   append([]string(nil), opts.Manifest.Assets...),
		origin:      opts.Origin,
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		clients:     opts.Clients,
		logger:      logging.Component(opts.Logger, "interceptor").WithField("generation", name),
		tracer:      opts.Tracer,
		concurrency: opts.Concurrency,
		state:       StateParsed,
		predecessor: opts.Predecessor,
	}, nil
}

// Name 返回缓存代数名称。
func (i *Interceptor) Name() string { return i.name }

// State 返回当前生命周期状态。
func (i *Interceptor) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Status 返回诊断快照。
func (i *Interceptor) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		State:      i.state,
		Generation: i.name,
		Version:    i.version,
		Assets:     i.assets.Len(),
		InFlight:   i.inflight,
	}
}

func (i *Interceptor) transition(from, to State) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != from {
		return fmt.Errorf("%w: %s → %s from %s", ErrInvalidState, from, to, i.state)
	}
	i.state = to
	return nil
}

func (i *Interceptor) setState(to State) {
	i.mu.Lock()
	i.state = to
	i.mu.Unlock()
}

// Install 把全部资源写入新的缓存代数。任一资源失败则整体失败：
// 代数被删除，状态转为 redundant，返回包装 ErrInstall 的错误。
// 成功且已有旧代数在服务时，向所有客户端广播 update-available。
func (i *Interceptor) Install(ctx context.Context) (err error) {
	if err := i.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	ctx, span := i.tracer.Start(ctx, "interceptor.install", trace.WithAttributes(
		attribute.String("cache.generation", i.name),
		attribute.Int("cache.assets", len(i.assetList)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "install failed")
		}
		span.End()
	}()

	gen, err := i.populate(ctx)
	if err != nil {
		i.discard(ctx)
		i.setState(StateRedundant)
		i.logger.WithError(err).WithField("action", "install").Error("install_failed")
		return fmt.Errorf("%w: %s: %v", ErrInstall, i.name, err)
	}

	i.mu.Lock()
	i.generation = gen
	i.state = StateInstalled
	prev := i.predecessor
	i.mu.Unlock()

	i.logger.WithFields(logrus.Fields{"action": "install", "assets": len(i.assetList)}).Info("install_complete")

	if prev != nil && prev.State() == StateActive {
		delivered := i.clients.Broadcast(Message{Type: MessageUpdateAvailable, Generation: i.name})
		i.logger.WithFields(logrus.Fields{"action": "install", "clients": delivered}).Info("update_available_broadcast")
	}
	return nil
}

func (i *Interceptor) populate(ctx context.Context) (cache.Generation, error) {
	gen, err := i.storage.Open(ctx, i.name)
	if err != nil {
		return nil, err
	}

	responses := make([]*cache.Response, len(i.assetList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, asset := range i.assetList {
		g.Go(func() error {
			req := NewRequest(i.origin, http.MethodGet, asset, "", nil, nil)
			resp, err := i.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", asset, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: unexpected status %d", asset, resp.Status)
			}
			responses[idx] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 全部抓取成功后才写入，失败时不会留下半成品代数。
	for idx, asset := range i.assetList {
		req := NewRequest(i.origin, http.MethodGet, asset, "", nil, nil)
		if err := gen.Put(ctx, req.Key(), responses[idx]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheWrite, asset, err)
		}
	}
	return gen, nil
}

func (i *Interceptor) discard(ctx context.Context) {
	i.mu.Lock()
	prev := i.predecessor
	i.mu.Unlock()
	// 同名代数正在服务时不能删除。
	if prev != nil && prev.Name() == i.name {
		return
	}
	if err := i.storage.Delete(context.WithoutCancel(ctx), i.name); err != nil {
		i.logger.WithError(err).WithField("action", "install").Warn("generation_discard_failed")
	}
}

// Activate 删除所有非当前代数后接管全部客户端。进入 activating 后即由本实例
// 服务请求，前任实例随之把请求转交过来；清理失败只记录日志，不阻止激活。
func (i *Interceptor) Activate(ctx context.Context) error {
	if err := i.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	ctx, span := i.tracer.Start(ctx, "interceptor.activate", trace.WithAttributes(
		attribute.String("cache.generation", i.name),
	))
	defer span.End()

	i.mu.Lock()
	prev := i.predecessor
	i.predecessor = nil
	i.mu.Unlock()
	if prev != nil {
		prev.supersede(i)
	}

	deleted, err := i.cleanup(ctx)
	if err != nil {
		span.RecordError(err)
		i.logger.WithError(err).WithField("action", "activate").Warn("generation_cleanup_failed")
	}

	claimed := i.clients.Claim(i.name)
	i.setState(StateActive)
	span.SetAttributes(attribute.Int("cache.deleted", len(deleted)), attribute.Int("clients.claimed", claimed))
	i.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"deleted": deleted,
		"clients": claimed,
	}).Info("activate_complete")
	return nil
}

func (i *Interceptor) cleanup(ctx context.Context) ([]string, error) {
	names, err := i.storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	var (
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if name == i.name {
			continue
		}
		if err := i.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

func (i *Interceptor) supersede(next *Interceptor) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateActive {
		i.state = StateSuperseded
		i.successor = next
	}
}

// Serve 处理一次请求。非 GET 请求与未激活时直接走网络且不缓存。
// 已被取代的实例把请求转交给后继。在途请求会被计数，Wait 在其全部完成前不会返回。
func (i *Interceptor) Serve(ctx context.Context, req *Request) (out *Outcome, err error) {
	if next := i.forward(); next != nil {
		return next.Serve(ctx, req)
	}
	gen, active := i.begin()
	defer i.done()

	route := RoutePassthrough
	if active {
		route = Classify(req, i.assets)
	}
	ctx, span := i.tracer.Start(ctx, "interceptor.serve", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
		attribute.String("cache.route", string(route)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "serve failed")
		} else {
			span.SetAttributes(
				attribute.Bool("cache.hit", out.CacheHit),
				attribute.Int("http.response.status_code", out.Response.Status),
			)
		}
		span.End()
	}()

	switch route {
	case RouteAsset:
		return i.serveAsset(ctx, gen, req)
	case RouteNavigation, RouteOther:
		return i.serveNetworkFirst(ctx, gen, req, route)
	default:
		resp, err := i.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Response: resp, Route: RoutePassthrough}, nil
	}
}

func (i *Interceptor) forward() *Interceptor {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateSuperseded {
		return nil
	}
	return i.successor
}

// begin 在 activating 阶段即视为可服务：代数在 installed 时已完整写入。
func (i *Interceptor) begin() (cache.Generation, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.inflight++
	serving := i.state == StateActivating || i.state == StateActive
	return i.generation, serving && i.generation != nil
}

func (i *Interceptor) done() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.inflight--
	if i.inflight == 0 && i.idle != nil {
		close(i.idle)
		i.idle = nil
	}
}

// Wait 阻塞直到所有在途请求完成或 ctx 结束。
func (i *Interceptor) Wait(ctx context.Context) error {
	i.mu.Lock()
	if i.inflight == 0 {
		i.mu.Unlock()
		return nil
	}
	if i.idle == nil {
		i.idle = make(chan struct{})
	}
	idle := i.idle
	i.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveAsset 缓存优先：命中直接返回，不做再验证；未命中回源，状态恰为 200 时先写缓存再返回。
// 回源失败直接返回错误，不回退；缓存写入失败只记录日志。
func (i *Interceptor) serveAsset(ctx context.Context, gen cache.Generation, req *Request) (*Outcome, error) {
	if cached := i.match(ctx, gen, req); cached != nil {
		return &Outcome{Response: cached, Route: RouteAsset, CacheHit: true, Generation: i.name}, nil
	}

	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		i.logger.WithError(err).WithFields(logging.RequestFields(string(RouteAsset), i.name, req.Path, false)).
			Error("asset_fetch_failed")
		return nil, err
	}
	if resp.Status == http.StatusOK {
		if err := gen.Put(ctx, req.Key(), resp.Clone()); err != nil {
			i.logger.WithError(err).WithFields(logging.RequestFields(string(RouteAsset), i.name, req.Path, false)).
				Warn("asset_cache_put_failed")
		}
	}
	return &Outcome{Response: resp, Route: RouteAsset, Generation: i.name}, nil
}

// serveNetworkFirst 网络优先，网络失败时回退到同一请求的缓存条目。
// 导航请求的缓存写入失败只记录日志；其他请求的写入失败随结果返回。
func (i *Interceptor) serveNetworkFirst(ctx context.Context, gen cache.Generation, req *Request, route Route) (*Outcome, error) {
	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		fields := logging.RequestFields(string(route), i.name, req.Path, false)
		if cached := i.match(ctx, gen, req); cached != nil {
			i.logger.WithError(err).WithFields(fields).Warn("network_failed_serving_cache")
			return &Outcome{Response: cached, Route: route, CacheHit: true, Generation: i.name}, nil
		}
		i.logger.WithError(err).WithFields(fields).Warn("network_failed_no_cache")
		return nil, err
	}

	if resp.OK() {
		if putErr := gen.Put(ctx, req.Key(), resp.Clone()); putErr != nil {
			putErr = fmt.Errorf("%w: %s: %v", ErrCacheWrite, req.Path, putErr)
			if route != RouteNavigation {
				return nil, putErr
			}
			i.logger.WithError(putErr).WithFields(logging.RequestFields(string(route), i.name, req.Path, false)).
				Error("navigation_cache_put_failed")
		}
	}
	return &Outcome{Response: resp, Route: route, Generation: i.name}, nil
}

// match 查找缓存条目；读取错误视为未命中。
func (i *Interceptor) match(ctx context.Context, gen cache.Generation, req *Request) *cache.Response {
	resp, err := gen.Match(ctx, req.Key())
	if err == nil {
		return resp
	}
	if !errors.Is(err, cache.ErrNotFound) {
		i.logger.WithError(err).WithFields(logging.RequestFields("", i.name, req.Path, false)).
			Warn("cache_match_failed")
	}
	return nil
}
