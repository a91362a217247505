package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/logging"
	"github.com/disk-lens/disk-lens/internal/usage"
)

// pathPayload 是 invalidate/delete 请求体的统一结构。
type pathPayload struct {
	Path string `json:"path"`
}

func registerRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/usage", handleUsage(opts))

	app.Post("/cache/invalidate", handleInvalidate(opts))
	app.Post("/cache/clear", func(c fiber.Ctx) error {
		opts.Store.Clear()
		opts.Logger.WithFields(logrus.Fields{
			"action": "cache_clear",
		}).Info("size cache cleared")
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Delete("/fs/entry", handleDelete(opts))

	app.Get("/-/progress/:id", func(c fiber.Ctx) error {
		snapshot, ok := opts.Hub.Lookup(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "progress_not_found"})
		}
		return c.JSON(snapshot)
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		infos := opts.Store.Snapshot()
		payload := make([]fiber.Map, 0, len(infos))
		for _, info := range infos {
			payload = append(payload, fiber.Map{
				"root":        info.Root,
				"entries":     info.Entries,
				"age_seconds": int64(info.Age / time.Second),
				"bytes":       info.Bytes,
				"bytes_human": humanize.IBytes(uint64(info.Bytes)),
			})
		}
		return c.JSON(fiber.Map{"roots": payload})
	})
}

// handleUsage 物化一层目录树。扫描级失败在核心层已降级，
// 这里只需处理目标路径本身无法 stat 的情况。
func handleUsage(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		path := c.Query("path")
		if path == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
		}

		reqID := RequestID(c)
		onProgress := opts.Hub.Track(reqID, path)

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		started := time.Now()
		node, cacheHit, err := opts.Usage.DiskUsage(ctx, path, onProgress)
		if err != nil {
			fields := logging.RequestFields(reqID, path, false)
			fields["action"] = "usage_failed"
			opts.Logger.WithError(err).WithFields(fields).Warn("disk usage request failed")

			status := fiber.StatusInternalServerError
			if errors.Is(err, fs.ErrNotExist) {
				status = fiber.StatusNotFound
			} else if errors.Is(err, fs.ErrPermission) {
				status = fiber.StatusForbidden
			}
			return c.Status(status).JSON(fiber.Map{"error": "stat_failed", "request_id": reqID})
		}

		fields := logging.RequestFields(reqID, path, cacheHit)
		fields["action"] = "usage_served"
		fields["children"] = len(node.Children)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		opts.Logger.WithFields(fields).Info("disk usage served")

		return c.JSON(fiber.Map{
			"request_id": reqID,
			"tree":       node,
		})
	}
}

func handleInvalidate(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		payload, ok := decodePathPayload(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
		}

		removed := opts.Store.Invalidate(payload.Path)
		opts.Logger.WithFields(logrus.Fields{
			"action":        "cache_invalidate",
			"path":          payload.Path,
			"cache_records": removed,
		}).Info("cache invalidated")
		return c.JSON(fiber.Map{"removed": removed})
	}
}

func handleDelete(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		payload, ok := decodePathPayload(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
		}

		if err := opts.Usage.DeleteEntry(payload.Path); err != nil {
			opts.Logger.WithError(err).WithFields(logrus.Fields{
				"action": "delete_failed",
				"path":   payload.Path,
			}).Warn("delete request failed")

			if errors.Is(err, usage.ErrProtectedPath) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "protected_path"})
			}
			if errors.Is(err, fs.ErrPermission) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "permission_denied"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "delete_failed"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}

func decodePathPayload(c fiber.Ctx) (pathPayload, bool) {
	var payload pathPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil || payload.Path == "" {
		return pathPayload{}, false
	}
	return payload, true
}
