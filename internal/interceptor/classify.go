package interceptor

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PXR05/ctrlt/internal/cache"
	"github.com/PXR05/ctrlt/internal/manifest"
)

// Route 是请求的缓存策略分类，只在单次请求内有效，不持久化。
type Route string

const (
	// RouteAsset 命中构建资源集合，缓存优先。
	RouteAsset Route = "asset"
	// RouteNavigation 是页面导航，网络优先，缓存写入失败不影响响应。
	RouteNavigation Route = "navigation"
	// RouteOther 是其余 GET 请求，网络优先，缓存写入失败向上传递。
	RouteOther Route = "other"
	// RoutePassthrough 表示未拦截：非 GET 请求或拦截器尚未激活。
	RoutePassthrough Route = "passthrough"
)

// Request 是拦截器看到的请求。Path 为客户端可见路径，用于分类；
// URL 为完整上游地址，与 Method 一起构成缓存标识。
type Request struct {
	Method   string
	Path     string
	RawQuery string
	URL      string
	Header   http.Header
	Body     []byte
}

// NewRequest 基于源站地址构造请求，Header 为 nil 时使用空 Header。
func NewRequest(origin *url.URL, method, path, rawQuery string, header http.Header, body []byte) *Request {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		Method:   method,
		Path:     path,
		RawQuery: rawQuery,
		URL:      ResolveURL(origin, path, rawQuery),
		Header:   header,
		Body:     body,
	}
}

// Key 返回缓存标识。
func (r *Request) Key() cache.RequestKey {
	return cache.RequestKey{Method: r.Method, URL: r.URL}
}

// Navigate 报告请求是否带有页面导航意图。优先使用 Sec-Fetch-Mode，
// 缺失时以 Accept 首选 text/html 作为判断依据。
func (r *Request) Navigate() bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if r.Method != http.MethodGet {
		return false
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/html" {
			return true
		}
	}
	return false
}

// ResolveURL 把客户端路径与查询串拼接到源站地址上，保留源站自带的路径前缀。
func ResolveURL(origin *url.URL, path, rawQuery string) string {
	if origin == nil {
		return path
	}
	u := *origin
	u.Path = strings.TrimSuffix(origin.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u.String()
}

// Classify 依次判断 Asset、Navigation，其余归为 Other；非 GET 请求不分类。
func Classify(req *Request, assets manifest.AssetSet) Route {
	if req.Method != http.MethodGet {
		return RoutePassthrough
	}
	if assets.Contains(req.Path) {
		return RouteAsset
	}
	if req.Navigate() {
		return RouteNavigation
	}
	return RouteOther
}
