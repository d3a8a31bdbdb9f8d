package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/config"
	"github.com/share-gate/share-gate/internal/server"
	"github.com/share-gate/share-gate/internal/sharetarget"
)

// HandleShare 解析共享目标请求：缓存外壳 → 源站外壳 → 携带共享参数 302 回基础路径。
// redirect 策略直接跳到最后一步。请求已位于基础路径时不再跳转，交给普通请求流程。
func (h *Handler) HandleShare(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	params := sharetarget.ParseParams(requestQuery(c))

	if route.Config.ShareStrategy != config.ShareStrategyRedirect {
		if served, err := h.serveShell(c, route, requestID, started); served {
			h.recordShare(route, params, requestID)
			return err
		}
	}

	if route.Classifier.AtBasePath(requestPath(c)) {
		h.recordShare(route, params, requestID)
		return h.Handle(c, route)
	}

	target := h.shareRedirectTarget(route, params, requestID)
	// 跳转目标仍会被识别为共享目标时，由落地的那一跳负责记录。
	if !landsOnShareTarget(route, target) {
		h.recordShare(route, params, requestID)
	}
	return h.redirectShare(c, route, target, requestID)
}

func (h *Handler) recordShare(route *server.SiteRoute, params sharetarget.Params, requestID string) {
	entry, ok := h.history.Record(route.Config.Name, params, h.now())
	if !ok {
		return
	}
	fields := routeFields(route, "", requestID)
	fields["action"] = "share_receive"
	fields["share_id"] = entry.ID
	fields["platform"] = entry.Platform
	h.logger.WithFields(fields).Info("share_received")
}

// serveShell 依次尝试缓存与源站中的外壳文档，served=false 表示两者都不可用。
func (h *Handler) serveShell(c fiber.Ctx, route *server.SiteRoute, requestID string, started time.Time) (bool, error) {
	ctx := requestContext(c)
	manager := h.manager(route)

	if manager != nil {
		snap, err := manager.Lookup(ctx, route.ShellKey)
		switch {
		case err == nil:
			h.logResult(route, route.ShellKey.URL, requestID, snap.Status, cacheStateHit, started, nil)
			return true, writeSnapshot(c, snap, cacheStateShell, requestID)
		case !errors.Is(err, cache.ErrNotFound):
			h.logger.WithError(err).
				WithFields(routeFields(route, cacheStateShell, requestID)).
				Warn("cache_get_failed")
		}
	}

	origin := h.origin(route)
	snap, sameOrigin, err := origin.fetch(ctx, route.ShellKey)
	if err == nil && snap.Status >= fiber.StatusInternalServerError {
		err = fmt.Errorf("shell status %d", snap.Status)
	}
	if err != nil {
		h.logResult(route, route.ShellKey.URL, requestID, snap.Status, cacheStateMiss, started, err)
		return false, nil
	}

	if manager != nil && cache.Cacheable(snap.Status, sameOrigin) {
		h.writer.Schedule(ctx, manager, route.ShellKey, snap)
	}
	h.logResult(route, route.ShellKey.URL, requestID, snap.Status, cacheStateMiss, started, nil)
	return true, writeSnapshot(c, &snap, cacheStateShell, requestID)
}

// shareRedirectTarget 仅携带非空的共享字段；无法构造时退回裸基础路径。
func (h *Handler) shareRedirectTarget(route *server.SiteRoute, params sharetarget.Params, requestID string) string {
	target, err := params.RedirectTarget(route.Config.BasePath)
	if err == nil {
		return target
	}
	fields := routeFields(route, "", requestID)
	fields["action"] = "share_redirect"
	h.logger.WithError(err).WithFields(fields).Warn("share_redirect_fallback")
	if route.Config.BasePath == "" {
		return "/"
	}
	return route.Config.BasePath
}

func landsOnShareTarget(route *server.SiteRoute, target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}
	return route.Classifier.IsShareTarget(parsed.Path, parsed.Query())
}

func (h *Handler) redirectShare(c fiber.Ctx, route *server.SiteRoute, target, requestID string) error {
	fields := routeFields(route, "", requestID)
	fields["action"] = "share_redirect"
	fields["location"] = target
	h.logger.WithFields(fields).Info("share_redirect")

	setRequestIDHeader(c, requestID)
	c.Set(fiber.HeaderLocation, target)
	return c.SendStatus(fiber.StatusFound)
}
