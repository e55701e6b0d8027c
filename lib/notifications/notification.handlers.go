package notifications

import (
	"arena/lib"
	"arena/lib/server/middleware"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SSENotificationHandler opens the player's notification stream. Holding the
// stream is what makes the player online in the arena.
func (s *NotificationService) SSENotificationHandler(c *fiber.Ctx) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}

	notifications := make(chan *Notification, s.config.ClientBuffer)
	close_chan, err := s.registerClient(c.Context(), player.ID, notifications)
	if errors.Is(err, ErrAlreadyConnected) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	} else if err != nil {
		slog.Error("Notifications : failed to register client", "error", err, "player_id", player.ID)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "notifications unavailable",
		})
	}

	if s.hooks.OnConnect != nil {
		if err := s.hooks.OnConnect(c.UserContext(), player); err != nil {
			s.unregisterClient(context.Background(), player.ID)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	if err := s.deliverStoredNotifications(c.Context(), player.ID); err != nil {
		slog.Error("Notifications : failed to deliver stored notifications", "error", err, "player_id", player.ID)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			s.unregisterClient(context.Background(), player.ID)
			if s.hooks.OnDisconnect != nil {
				s.hooks.OnDisconnect(context.Background(), player)
			}
		}()

		w.WriteString("data: {\"type\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		heartbeat := time.NewTicker(s.config.HeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case notification := <-notifications:
				if err := s.writeEvent(w, notification); err != nil {
					slog.Warn("Notifications : client disconnected (flush error)", "error", err, "player_id", player.ID)
					return
				}

			case <-close_chan:
				slog.Debug("Notifications : received close signal", "player_id", player.ID)
				return

			case <-s.shutdown:
				return

			case <-heartbeat.C:
				if !s.hasActiveConnection(context.Background(), player.ID) {
					slog.Debug("Notifications : connection status expired", "player_id", player.ID)
					return
				}
				if err := s.keepAlive(context.Background(), player); err != nil {
					slog.Warn("Notifications : failed to refresh connection", "error", err, "player_id", player.ID)
				}
				ping := &Notification{Type: TypePing, CreatedAt: time.Now(), Content: json.RawMessage("{}")}
				if err := s.writeEvent(w, ping); err != nil {
					slog.Warn("Notifications : client disconnected (heartbeat)", "error", err, "player_id", player.ID)
					return
				}
			}
		}
	})
	return nil
}

func (s *NotificationService) writeEvent(w *bufio.Writer, notification *Notification) error {
	bufPtr := s.bufPool.Get().(*[]byte)
	defer s.bufPool.Put(bufPtr)

	buf := bytes.NewBuffer((*bufPtr)[:0])
	notification.PlayerID = ""
	if err := json.NewEncoder(buf).Encode(notification); err != nil {
		slog.Error("Notifications : failed to marshal notification", "error", err, "notification_id", notification.ID)
		return nil
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (s *NotificationService) RefreshConnectionTTL(ctx context.Context, player_id lib.PlayerID) error {
	return s.cache.Db.Expire(ctx, connectedKey(player_id), s.config.ConnectionTTL).Err()
}

// keepAlive extends the connection key and lets the hooks refresh whatever
// else tracks the stream.
func (s *NotificationService) keepAlive(ctx context.Context, player lib.PlayerRef) error {
	if err := s.RefreshConnectionTTL(ctx, player.ID); err != nil {
		return err
	}
	if s.hooks.OnHeartbeat != nil {
		s.hooks.OnHeartbeat(ctx, player)
	}
	return nil
}

// RefreshHandler keeps a long-lived stream marked as connected.
func (s *NotificationService) RefreshHandler(c *fiber.Ctx) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}
	if !s.hasActiveConnection(c.Context(), player.ID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": ErrNotConnected.Error(),
		})
	}
	if err := s.keepAlive(c.Context(), player); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "cannot refresh connection",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CloseConnection ends the player's stream. The connection key is dropped
// too so another instance holding the stream stops at its next heartbeat.
func (s *NotificationService) CloseConnection(c *fiber.Ctx) error {
	player, err := middleware.GetPlayer(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unknown player",
		})
	}

	s.signalClose(player.ID)
	if err := s.cache.Db.Del(c.Context(), connectedKey(player.ID)).Err(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "cannot close connection",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
