package routes

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/eventlog"
	"github.com/PXR05/ctrlt/internal/logging"
	"github.com/PXR05/ctrlt/internal/store"
)

type trackPayload struct {
	Type         string `json:"type"`
	URL          string `json:"url"`
	Query        string `json:"query"`
	Engine       string `json:"engine"`
	ShortcutName string `json:"shortcutName"`
	Referrer     string `json:"referrer"`
}

// RegisterOutboundRoutes 暴露出站事件的记录、查询、统计与清空接口。
func RegisterOutboundRoutes(app *fiber.App, events *eventlog.Log, logger *logrus.Logger) {
	if app == nil || events == nil {
		return
	}
	log := logging.Component(logger, "outbound")

	app.Post("/-/outbound", func(c fiber.Ctx) error {
		var payload trackPayload
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		kind, err := eventlog.ParseType(payload.Type)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_event_type"})
		}
		if strings.TrimSpace(payload.URL) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}

		meta := eventlog.Metadata{
			UserAgent: c.Get(fiber.HeaderUserAgent),
			Referrer:  payload.Referrer,
		}
		var event eventlog.Event
		switch kind {
		case eventlog.TypeSearch:
			event, err = events.TrackSearch(c.Context(), payload.URL, payload.Query, payload.Engine, meta)
		case eventlog.TypeShortcut:
			event, err = events.TrackShortcut(c.Context(), payload.URL, payload.ShortcutName, meta)
		default:
			event, err = events.TrackNavigation(c.Context(), payload.URL, meta)
		}
		switch {
		case errors.Is(err, eventlog.ErrNotLoaded):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "event_log_unavailable"})
		case errors.Is(err, store.ErrStorageWrite):
			// 事件已保留在内存中，下次成功写入时一并落盘。
			log.WithError(err).WithFields(logrus.Fields{"action": "track", "type": kind}).Warn("event_not_persisted")
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "track_failed"})
		}
		return c.Status(fiber.StatusCreated).JSON(event)
	})

	app.Get("/-/outbound", func(c fiber.Ctx) error {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_limit"})
			}
			limit = n
		}

		var list []eventlog.Event
		if raw := c.Query("type"); raw != "" {
			kind, err := eventlog.ParseType(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_event_type"})
			}
			list = events.EventsByType(kind)
			if limit > 0 && len(list) > limit {
				list = list[len(list)-limit:]
			}
		} else if limit > 0 {
			list = events.RecentEvents(limit)
		} else {
			list = events.Events()
		}
		if list == nil {
			list = []eventlog.Event{}
		}
		return c.JSON(fiber.Map{"events": list})
	})

	app.Get("/-/outbound/stats", func(c fiber.Ctx) error {
		return c.JSON(events.Stats())
	})

	app.Delete("/-/outbound", func(c fiber.Ctx) error {
		if err := events.Clear(c.Context()); err != nil {
			log.WithError(err).WithField("action", "clear").Error("event_log_clear_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
