package proxy

import (
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/share-gate/share-gate/internal/logging"
	"github.com/share-gate/share-gate/internal/server"
)

// Forwarder 对每个请求做分类：共享目标请求交给 share handler，其余交给普通 handler，
// 并把 handler 内部的 panic 转为 500 响应。
type Forwarder struct {
	ordinary server.ProxyHandler
	share    server.ProxyHandler
	logger   *logrus.Logger
}

// NewForwarder 创建 Forwarder，两个 handler 均不能为空。
func NewForwarder(ordinary, share server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		ordinary: ordinary,
		share:    share,
		logger:   logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	requestID := server.RequestID(c)
	handler := f.dispatch(c, route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) dispatch(c fiber.Ctx, route *server.SiteRoute) server.ProxyHandler {
	if route != nil && route.Classifier.IsShareTarget(requestPath(c), requestQuery(c)) {
		return f.share
	}
	return f.ordinary
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.SiteRoute, requestID string) error {
	f.logDispatchError(route, "handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.SiteRoute, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.SiteRoute, recovered interface{}, requestID string) error {
	f.logDispatchError(route, "handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logDispatchError(route *server.SiteRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, "", requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("handler unavailable")
}

func routeFields(route *server.SiteRoute, cacheState, requestID string) logrus.Fields {
	if route == nil {
		return logrus.Fields{
			"site":    "",
			"domain":  "",
			"version": "",
			"cache":   cacheState,
		}
	}
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, route.Config.CacheVersion, cacheState)
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
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

// requestQuery 解析原始查询串，格式错误的片段被忽略。
func requestQuery(c fiber.Ctx) url.Values {
	values, _ := url.ParseQuery(string(c.Request().URI().QueryString()))
	return values
}
