package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/server"
	"github.com/share-gate/share-gate/internal/sharetarget"
)

// 响应头 X-Share-Gate-Cache 的取值。
const (
	cacheStateHit    = "hit"
	cacheStateMiss   = "miss"
	cacheStateBypass = "bypass"
	cacheStateShell  = "shell"
)

const cacheStateHeader = "X-Share-Gate-Cache"

// ManagerSource 按站点名查找缓存管理器，lifecycle.Supervisor 实现了该接口。
type ManagerSource interface {
	Manager(site string) (*cache.Manager, bool)
}

// Options 描述 Handler 的依赖。
type Options struct {
	Client           *http.Client
	Logger           *logrus.Logger
	Managers         ManagerSource
	WriteBack        *cache.WriteBack
	History          *sharetarget.History
	MaxCacheableSize int64
}

// Handler 负责“缓存优先 → 回源 → 异步写回”的全流程，以及共享目标请求的外壳解析。
type Handler struct {
	client   *http.Client
	logger   *logrus.Logger
	managers ManagerSource
	writer   *cache.WriteBack
	history  *sharetarget.History
	maxBody  int64
	now      func() time.Time
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/managers.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Managers == nil {
		return nil, errors.New("cache managers are required")
	}
	writer := opts.WriteBack
	if writer == nil {
		writer = cache.NewWriteBack(opts.Logger, 0)
	}
	return &Handler{
		client:   opts.Client,
		logger:   opts.Logger,
		managers: opts.Managers,
		writer:   writer,
		history:  opts.History,
		maxBody:  opts.MaxCacheableSize,
		now:      time.Now,
	}, nil
}

// ShareHandler 返回处理共享目标请求的 server.ProxyHandler。
func (h *Handler) ShareHandler() server.ProxyHandler {
	return server.ProxyHandlerFunc(h.HandleShare)
}

// Handle 处理普通请求：GET 命中直接返回缓存，未命中回源并在合格时写回；非 GET 原样透传。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := requestContext(c)
	key := cache.Key{Method: c.Method(), URL: requestURI(c)}
	manager := h.manager(route)

	if key.Method != http.MethodGet {
		return h.passthrough(c, route, requestID, started)
	}

	if manager != nil {
		snap, err := manager.Lookup(ctx, key)
		switch {
		case err == nil:
			h.logResult(route, key.URL, requestID, snap.Status, cacheStateHit, started, nil)
			return writeSnapshot(c, snap, cacheStateHit, requestID)
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			h.logger.WithError(err).
				WithFields(routeFields(route, cacheStateMiss, requestID)).
				Warn("cache_get_failed")
		}
	}

	origin := h.origin(route)
	resp, upstream, err := h.forward(c, route, origin, nil)
	if err != nil {
		return h.handleNetworkFailure(c, route, manager, upstream, requestID, started, err)
	}
	defer resp.Body.Close()

	if manager == nil || !cache.Cacheable(resp.StatusCode, origin.SameOrigin(resp)) {
		return h.stream(c, route, resp, upstream, cacheStateBypass, requestID, started)
	}

	body, err := origin.readBody(resp)
	if errors.Is(err, errBodyTooLarge) {
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), resp.Body))
		return h.stream(c, route, resp, upstream, cacheStateBypass, requestID, started)
	}
	if err != nil {
		return h.handleNetworkFailure(c, route, manager, upstream, requestID, started, err)
	}

	snap := snapshotFromResponse(resp, body)
	h.writer.Schedule(ctx, manager, key, snap)
	h.logResult(route, upstream, requestID, snap.Status, cacheStateMiss, started, nil)
	return writeSnapshot(c, &snap, cacheStateMiss, requestID)
}

// handleNetworkFailure 对文档导航回退到缓存外壳，其余请求返回 502。
func (h *Handler) handleNetworkFailure(
	c fiber.Ctx,
	route *server.SiteRoute,
	manager *cache.Manager,
	upstream string,
	requestID string,
	started time.Time,
	cause error,
) error {
	if manager != nil && isDocumentRequest(c) {
		snap, err := manager.Lookup(requestContext(c), route.ShellKey)
		if err == nil {
			fields := routeFields(route, cacheStateShell, requestID)
			fields["action"] = "proxy"
			fields["upstream"] = upstream
			h.logger.WithError(cause).WithFields(fields).Warn("proxy_shell_fallback")
			return writeSnapshot(c, snap, cacheStateShell, requestID)
		}
	}
	h.logResult(route, upstream, requestID, 0, cacheStateMiss, started, cause)
	return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
}

func (h *Handler) passthrough(c fiber.Ctx, route *server.SiteRoute, requestID string, started time.Time) error {
	body := append([]byte(nil), c.Body()...)
	resp, upstream, err := h.forward(c, route, h.origin(route), bytes.NewReader(body))
	if err != nil {
		h.logResult(route, upstream, requestID, 0, cacheStateBypass, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()
	return h.stream(c, route, resp, upstream, cacheStateBypass, requestID, started)
}

// stream 将源站响应原样写回客户端，不做缓存。
func (h *Handler) stream(
	c fiber.Ctx,
	route *server.SiteRoute,
	resp *http.Response,
	upstream string,
	cacheState string,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(cacheStateHeader, cacheState)
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, upstream, requestID, resp.StatusCode, cacheState, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstream, requestID, resp.StatusCode, cacheState, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read upstream failed: %v", err))
	}
	return nil
}

// forward 构造并发送源站请求，body 为 nil 时发送空请求体。
func (h *Handler) forward(c fiber.Ctx, route *server.SiteRoute, origin *Origin, body io.Reader) (*http.Response, string, error) {
	target, err := origin.Resolve(requestURI(c))
	if err != nil {
		return nil, "", err
	}
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(requestContext(c), c.Method(), target.String(), body)
	if err != nil {
		return nil, target.String(), err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, target.String(), err
	}
	return resp, target.String(), nil
}

func (h *Handler) manager(route *server.SiteRoute) *cache.Manager {
	if route == nil {
		return nil
	}
	manager, ok := h.managers.Manager(route.Config.Name)
	if !ok {
		return nil
	}
	return manager
}

func (h *Handler) origin(route *server.SiteRoute) *Origin {
	return NewOrigin(h.client, route.OriginURL, h.maxBody)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	upstream string,
	requestID string,
	status int,
	cacheState string,
	started time.Time,
	err error,
) {
	fields := routeFields(route, cacheState, requestID)
	if manager := h.manager(route); manager != nil {
		fields["version"] = manager.Active()
	}
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// writeSnapshot 输出缓存或缓冲后的完整响应。
func writeSnapshot(c fiber.Ctx, snap *cache.Snapshot, cacheState, requestID string) error {
	copyResponseHeaders(c, snap.Header)
	c.Set(cacheStateHeader, cacheState)
	setRequestIDHeader(c, requestID)
	c.Status(snap.Status)
	if c.Method() == http.MethodHead {
		return nil
	}
	return c.Send(snap.Body)
}

// isDocumentRequest 判断请求是否为顶层文档导航。
func isDocumentRequest(c fiber.Ctx) bool {
	if dest := c.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return c.Get("Sec-Fetch-Mode") == "navigate"
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// requestURI 返回源站相对的路径与原始查询串，作为缓存键。
func requestURI(c fiber.Ctx) string {
	uri := string(c.Request().URI().RequestURI())
	if uri == "" {
		return "/"
	}
	return uri
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

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

func routePort(route *server.SiteRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}
