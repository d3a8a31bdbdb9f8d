package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/server"
)

// errBodyTooLarge 表示响应体超出可缓存上限。
var errBodyTooLarge = errors.New("response body exceeds cacheable size")

// Origin 封装站点源站的地址解析与整包拉取，实现 cache.Fetcher。
type Origin struct {
	client  *http.Client
	base    *url.URL
	maxBody int64
}

// NewOrigin 创建 Origin，maxBody <= 0 表示不限制可缓存响应体大小。
func NewOrigin(client *http.Client, base *url.URL, maxBody int64) *Origin {
	return &Origin{client: client, base: base, maxBody: maxBody}
}

// Resolve 将源站相对 URI（路径 + 原始查询）解析为源站绝对地址。
func (o *Origin) Resolve(requestURI string) (*url.URL, error) {
	if !strings.HasPrefix(requestURI, "/") {
		return nil, fmt.Errorf("request uri must be origin-relative: %q", requestURI)
	}
	relative, err := url.Parse(requestURI)
	if err != nil {
		return nil, fmt.Errorf("parse request uri: %w", err)
	}
	if relative.Host != "" {
		return nil, fmt.Errorf("request uri must be origin-relative: %q", requestURI)
	}
	return o.base.ResolveReference(relative), nil
}

// SameOrigin 判断最终响应（跟随重定向后）是否仍来自站点源站。
func (o *Origin) SameOrigin(resp *http.Response) bool {
	return server.SameOrigin(o.base, server.FinalURL(resp))
}

// FetchSnapshot 以 GET 拉取完整响应，跨源结果与超限响应体都视为失败。
func (o *Origin) FetchSnapshot(ctx context.Context, key cache.Key) (cache.Snapshot, error) {
	snap, sameOrigin, err := o.fetch(ctx, key)
	if err != nil {
		return cache.Snapshot{}, err
	}
	if !sameOrigin {
		return cache.Snapshot{}, fmt.Errorf("fetch %s: redirected off origin", key.URL)
	}
	return snap, nil
}

func (o *Origin) fetch(ctx context.Context, key cache.Key) (cache.Snapshot, bool, error) {
	target, err := o.Resolve(key.URL)
	if err != nil {
		return cache.Snapshot{}, false, err
	}
	req, err := http.NewRequestWithContext(ctx, key.Method, target.String(), http.NoBody)
	if err != nil {
		return cache.Snapshot{}, false, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return cache.Snapshot{}, false, err
	}
	defer resp.Body.Close()

	body, err := o.readBody(resp)
	if err != nil {
		return cache.Snapshot{}, false, fmt.Errorf("read %s: %w", key.URL, err)
	}
	return snapshotFromResponse(resp, body), o.SameOrigin(resp), nil
}

// readBody 读取响应体；超过 maxBody 时返回 errBodyTooLarge 以及已读取的部分。
func (o *Origin) readBody(resp *http.Response) ([]byte, error) {
	if o.maxBody <= 0 {
		return io.ReadAll(resp.Body)
	}
	if resp.ContentLength > o.maxBody {
		return nil, errBodyTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > o.maxBody {
		return body, errBodyTooLarge
	}
	return body, nil
}

func snapshotFromResponse(resp *http.Response, body []byte) cache.Snapshot {
	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return cache.Snapshot{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
}
