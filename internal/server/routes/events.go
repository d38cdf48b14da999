package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/PXR05/ctrlt/internal/interceptor"
	"github.com/PXR05/ctrlt/internal/logging"
)

// DefaultKeepAlive 是 SSE 心跳间隔，心跳写失败即视为客户端断开。
const DefaultKeepAlive = 15 * time.Second

// MessageConnected 是连接建立后发送的第一条消息，携带当前控制代数。
const MessageConnected = "connected"

// RegisterEventRoutes 以 server-sent events 暴露客户端通知通道。
// done 关闭时所有流结束，便于进程优雅退出。
func RegisterEventRoutes(app *fiber.App, clients *interceptor.Clients, done <-chan struct{}, logger *logrus.Logger) {
	if app == nil || clients == nil {
		return
	}
	log := logging.Component(logger, "events")

	app.Get("/-/events", func(c fiber.Ctx) error {
		client := clients.Connect()
		log.WithFields(logrus.Fields{"action": "client_connect", "client": client.ID()}).Debug("client_connected")

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer clients.Disconnect(client)
			err := streamEvents(w, client, DefaultKeepAlive, done)
			log.WithFields(logrus.Fields{"action": "client_disconnect", "client": client.ID()}).
				WithError(err).Debug("client_disconnected")
		})
	})
}

// streamEvents 把客户端消息写成 SSE 帧，直到通道关闭、done 关闭或写入失败。
func streamEvents(w *bufio.Writer, client *interceptor.Client, keepAlive time.Duration, done <-chan struct{}) error {
	hello := interceptor.Message{Type: MessageConnected, Generation: client.Controller()}
	if err := writeEvent(w, hello); err != nil {
		return err
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case msg, ok := <-client.Messages():
			if !ok {
				return nil
			}
			if err := writeEvent(w, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, msg interceptor.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload); err != nil {
		return err
	}
	return w.Flush()
}
