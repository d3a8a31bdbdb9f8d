package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/share-gate/share-gate/internal/lifecycle"
	"github.com/share-gate/share-gate/internal/server"
	"github.com/share-gate/share-gate/internal/sharetarget"
)

// RegisterDiagnosticsRoutes 暴露 /-/sites 与 /-/shares 诊断接口，供运维查询站点代际状态与最近共享。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.SiteRegistry, supervisor *lifecycle.Supervisor, history *sharetarget.History) {
	if app == nil || registry == nil || supervisor == nil {
		return
	}

	diag := app.Group(server.DiagnosticsPrefix)

	diag.Get("/sites", func(c fiber.Ctx) error {
		routes := registry.List()
		payload := make([]sitePayload, 0, len(routes))
		for i := range routes {
			payload = append(payload, encodeSite(c, &routes[i], supervisor))
		}
		return c.JSON(fiber.Map{"sites": payload})
	})

	diag.Get("/sites/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "site_name_required"})
		}
		route, ok := registry.Site(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		}
		return c.JSON(encodeSite(c, route, supervisor))
	})

	diag.Get("/shares", func(c fiber.Ctx) error {
		entries := history.List(strings.TrimSpace(c.Query("site")))
		return c.JSON(fiber.Map{"shares": entries})
	})
}

type sitePayload struct {
	Name          string          `json:"name"`
	Domain        string          `json:"domain"`
	Origin        string          `json:"origin"`
	BasePath      string          `json:"base_path"`
	Shell         string          `json:"shell"`
	ShareMatch    string          `json:"share_match"`
	ShareStrategy string          `json:"share_strategy"`
	Version       string          `json:"version"`
	Active        string          `json:"active"`
	State         lifecycle.State `json:"state"`
	Error         string          `json:"error,omitempty"`
	Generations   []string        `json:"generations"`
	Assets        int             `json:"assets"`
}

func encodeSite(c fiber.Ctx, route *server.SiteRoute, supervisor *lifecycle.Supervisor) sitePayload {
	payload := sitePayload{
		Name:          route.Config.Name,
		Domain:        route.Config.Domain,
		Origin:        route.OriginURL.String(),
		BasePath:      route.Config.BasePath,
		Shell:         route.Config.ShellPath(),
		ShareMatch:    route.Config.ShareMatch,
		ShareStrategy: route.Config.ShareStrategy,
		Version:       route.Config.CacheVersion,
		Assets:        len(route.Config.Assets),
	}
	if status, ok := supervisor.Status(route.Config.Name); ok {
		payload.Active = status.Active
		payload.State = status.State
		payload.Error = status.Error
	}
	if manager, ok := supervisor.Manager(route.Config.Name); ok {
		if generations, err := manager.Generations(c.Context()); err == nil {
			payload.Generations = generations
		}
	}
	return payload
}
