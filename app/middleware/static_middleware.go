package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlugStatic answers browser probes for /.well-known/ paths under the static
// prefix so they never fall through to the file server.
func PlugStatic(staticPrefix string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()

		if strings.HasPrefix(path, staticPrefix) && strings.HasPrefix(path, "/.well-known/") {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status": "ignored dynamic-static",
			})
		}

		return c.Next()
	}
}

// Static mounts dir at /static and serves its index.html at /.
func Static(app *fiber.App, dir string) {
	app.Use(PlugStatic("/"))
	app.Static("/static", dir)
	app.Static("/", dir)
}
