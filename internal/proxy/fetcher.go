package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PXR05/ctrlt/internal/cache"
	"github.com/PXR05/ctrlt/internal/interceptor"
	"github.com/PXR05/ctrlt/internal/server"
)

// UpstreamFetcher 通过共享 http.Client 访问源站，实现 interceptor.Fetcher。
type UpstreamFetcher struct {
	client *http.Client
}

// NewUpstreamFetcher 包装共享客户端。
func NewUpstreamFetcher(client *http.Client) *UpstreamFetcher {
	return &UpstreamFetcher{client: client}
}

// Fetch 发起上游请求并完整读取正文。连接失败、超时和正文读取失败都包装为 interceptor.ErrNetwork。
func (f *UpstreamFetcher) Fetch(ctx context.Context, req *interceptor.Request) (*cache.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	upstream, err := f.buildUpstreamRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", interceptor.ErrNetwork, req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", interceptor.ErrNetwork, req.URL, err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	return &cache.Response{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

func (f *UpstreamFetcher) buildUpstreamRequest(ctx context.Context, req *interceptor.Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(upstream.Header, req.Header)
	// 交给 Transport 处理压缩，缓存中只保存解压后的正文。
	upstream.Header.Del("Accept-Encoding")
	upstream.Header.Del("Host")
	upstream.Host = upstream.URL.Host
	return upstream, nil
}
