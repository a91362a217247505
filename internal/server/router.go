package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/progress"
	"github.com/disk-lens/disk-lens/internal/scan"
	"github.com/disk-lens/disk-lens/internal/sizecache"
	"github.com/disk-lens/disk-lens/internal/usage"
)

// UsageService 抽象磁盘占用核心能力，便于测试注入伪实现。
// DiskUsage 的布尔返回值指示本次请求是否命中缓存。
type UsageService interface {
	DiskUsage(ctx context.Context, dirPath string, onProgress func(scan.Progress)) (*usage.Node, bool, error)
	DeleteEntry(path string) error
}

// AppOptions 描述构建 Fiber 应用所需的全部依赖。
type AppOptions struct {
	Logger *logrus.Logger
	Usage  UsageService
	Store  *sizecache.Store
	Hub    *progress.Hub
}

const contextKeyRequestID = "_disklens_request_id"

// NewApp 构建带请求 ID 注入与结构化错误输出的 Fiber 应用。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Usage == nil {
		return nil, errors.New("usage service is required")
	}
	if opts.Store == nil {
		return nil, errors.New("size cache store is required")
	}
	if opts.Hub == nil {
		return nil, errors.New("progress hub is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	registerRoutes(app, opts)
	return app, nil
}

// requestIDMiddleware 注入请求 ID：优先采用客户端自带的
// request_id/X-Request-ID（GUI 据此提前轮询进度），否则生成 uuid。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Query("request_id"))
		if reqID == "" {
			reqID = strings.TrimSpace(string(c.Request().Header.Peek("X-Request-ID")))
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID 返回中间件写入的请求标识。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
