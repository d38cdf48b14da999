package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/interceptor"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/server"
)

// Interceptor 是 Handler 依赖的缓存层，interceptor.Registration 满足该接口。
type Interceptor interface {
	Serve(ctx context.Context, req *interceptor.Request) (*interceptor.Outcome, error)
}

// Handler 把 Fiber 请求转换为拦截器请求，并把结果（缓存或网络）写回客户端。
type Handler struct {
	interceptor Interceptor
	origin      *url.URL
	logger      *logrus.Logger
}

// NewHandler constructs a proxy handler bound to the start-page origin.
func NewHandler(ic Interceptor, origin *url.URL, logger *logrus.Logger) *Handler {
	return &Handler{
		interceptor: ic,
		origin:      origin,
		logger:      logger,
	}
}

// Handle 执行分类、缓存策略与回源，任何失败都会输出结构化日志并以 JSON 错误响应。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := h.buildRequest(c)
	out, err := h.interceptor.Serve(ctx, req)
	if err != nil {
		status, code := errorStatus(err)
		h.logResult(req, nil, requestID, started, err)
		return h.writeError(c, status, code)
	}

	h.logResult(req, out, requestID, started, nil)
	return h.writeOutcome(c, out, requestID)
}

func (h *Handler) buildRequest(c fiber.Ctx) *interceptor.Request {
	uri := c.Request().URI()
	header := fiberHeadersAsHTTP(c)
	header.Set("X-Forwarded-Host", c.Hostname())
	header.Set("X-Forwarded-Proto", c.Protocol())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	body := append([]byte(nil), c.Body()...)
	return interceptor.NewRequest(h.origin, c.Method(), requestPath(c), string(uri.QueryString()), header, body)
}

func (h *Handler) writeOutcome(c fiber.Ctx, out *interceptor.Outcome, requestID string) error {
	resp := out.Response
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Ctrlt-Route", string(out.Route))
	c.Set("X-Ctrlt-Cache-Hit", strconv.FormatBool(out.CacheHit))
	if out.Generation != "" {
		c.Set("X-Ctrlt-Generation", out.Generation)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// errorStatus 把拦截器错误映射为响应状态与错误码。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, interceptor.ErrNetwork):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, interceptor.ErrCacheWrite):
		return fiber.StatusInternalServerError, "cache_write_failed"
	default:
		return fiber.StatusBadGateway, "proxy_failed"
	}
}

func (h *Handler) logResult(
	req *interceptor.Request,
	out *interceptor.Outcome,
	requestID string,
	started time.Time,
	err error,
) {
	var fields logrus.Fields
	if out != nil {
		fields = logging.RequestFields(string(out.Route), out.Generation, req.Path, out.CacheHit)
		fields["upstream_status"] = out.Response.Status
	} else {
		fields = logging.RequestFields("", "", req.Path, false)
	}
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["upstream"] = req.URL
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func requestPath(c fiber.Ctx) string {
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传上游响应头；Content-Length 由 Fiber 根据正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
