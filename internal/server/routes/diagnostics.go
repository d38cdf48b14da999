package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/interceptor"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/manifest"
	"github.com/PXR05/ctrlt/internal/state"
)

// ManifestLoader 重新读取构建清单，供 /-/update 使用。
type ManifestLoader func() (*manifest.Manifest, error)

type statusPayload struct {
	Interceptor interceptor.Status `json:"interceptor"`
	Clients     int                `json:"clients"`
	States      []string           `json:"states"`
}

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/update。
func RegisterDiagnosticsRoutes(app *fiber.App, reg *interceptor.Registration, states *state.Registry, reload ManifestLoader, logger *logrus.Logger) {
	if app == nil || reg == nil {
		return
	}
	log := logging.Component(logger, "diagnostics")

	status := func() statusPayload {
		payload := statusPayload{
			Interceptor: reg.Status(),
			Clients:     reg.Clients().Len(),
			States:      []string{},
		}
		if states != nil {
			payload.States = states.Names()
		}
		return payload
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(status())
	})

	app.Post("/-/update", func(c fiber.Ctx) error {
		if reload == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "update_unavailable"})
		}
		m, err := reload()
		if err != nil {
			log.WithError(err).WithField("action", "update").Warn("manifest_load_failed")
			if errors.Is(err, manifest.ErrInvalid) {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "manifest_invalid"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "manifest_unavailable"})
		}
		if _, err := reg.Update(c.Context(), m); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"action":     "update",
				"generation": m.CacheName(),
			}).Error("generation_update_failed")
			if errors.Is(err, interceptor.ErrInstall) {
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "install_failed"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "update_failed"})
		}
		return c.JSON(status())
	})
}
