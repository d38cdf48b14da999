package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/state"
	"github.com/PXR05/ctrlt/internal/store"
)

type domainPayload struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	MaxItems    int    `json:"maxItems,omitempty"`
	Initialized bool   `json:"initialized"`
	Value       any    `json:"value"`
}

func encodeDomain(d *state.Domain) domainPayload {
	return domainPayload{
		Name:        d.Name(),
		Key:         d.Key(),
		MaxItems:    d.MaxItems(),
		Initialized: d.Initialized(),
		Value:       d.Value(),
	}
}

// RegisterStateRoutes 暴露 /-/state 读写接口，每个声明的状态域一个路径。
func RegisterStateRoutes(app *fiber.App, registry *state.Registry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	log := logging.Component(logger, "state_routes")

	lookup := func(c fiber.Ctx) (*state.Domain, error) {
		d, err := registry.Get(c.Params("name"))
		if errors.Is(err, state.ErrUnknownDomain) {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "state_not_found"})
		}
		return d, err
	}

	app.Get("/-/state", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"states": registry.Names()})
	})

	app.Get("/-/state/:name", func(c fiber.Ctx) error {
		d, err := lookup(c)
		if d == nil {
			return err
		}
		return c.JSON(encodeDomain(d))
	})

	app.Put("/-/state/:name", func(c fiber.Ctx) error {
		d, err := lookup(c)
		if d == nil {
			return err
		}
		if err := d.Set(c.Body()); err != nil {
			if errors.Is(err, store.ErrValidation) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_state", "detail": err.Error()})
			}
			return err
		}
		return c.JSON(encodeDomain(d))
	})

	app.Delete("/-/state/:name", func(c fiber.Ctx) error {
		d, err := lookup(c)
		if d == nil {
			return err
		}
		if err := d.Clear(c.Context()); err != nil {
			log.WithError(err).WithFields(logging.StoreFields("state_clear", d.Key())).Error("state_clear_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
