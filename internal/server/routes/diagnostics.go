package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/repochat/repochat/internal/version"
)

// SessionLister 暴露会话缓存的只读视图。
type SessionLister interface {
	Keys() []string
	Len() int
}

// RegisterDiagnosticRoutes 暴露 /-/health 与 /-/sessions 诊断接口。
func RegisterDiagnosticRoutes(app *fiber.App, sessions SessionLister) {
	if app == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	if sessions == nil {
		return
	}
	app.Get("/-/sessions", func(c fiber.Ctx) error {
		keys := sessions.Keys()
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(fiber.Map{
			"count":    len(keys),
			"sessions": keys,
		})
	})
}
