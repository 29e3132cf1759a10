package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds the liveness/readiness endpoint. It reports the
// backing stores and the reconciliation monitor's last cycle.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "ok"
		redisStatus := "ok"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		} else {
			dbStatus = "memory"
		}
		if d.Cache != nil {
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		} else {
			redisStatus = "disabled"
		}

		body := fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if d.Monitor != nil {
			if last, ok := d.Monitor.LastCycle(); ok {
				body["monitor"] = fiber.Map{
					"last_cycle_at": last.StartedAt.Format(time.RFC3339Nano),
					"duration":      last.Duration.String(),
					"checked":       last.Checked,
					"confirmed":     last.Confirmed,
					"failed":        last.Failed,
					"deposits":      last.Deposits,
					"errors":        last.Errors,
				}
			} else {
				body["monitor"] = fiber.Map{"last_cycle_at": nil}
			}
		}

		status := http.StatusOK
		if (dbStatus != "ok" && dbStatus != "memory") || (redisStatus != "ok" && redisStatus != "disabled") {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(body)
	})
}
