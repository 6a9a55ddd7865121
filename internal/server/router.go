package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/repochat/repochat/internal/logging"
)

// bodyOverhead 是 multipart 封装在上传上限之外额外允许的字节数。
const bodyOverhead = 1 << 20

// DefaultAllowOrigins 是未配置时允许的前端来源。
var DefaultAllowOrigins = []string{"http://localhost:5173"}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger        *logrus.Logger
	MaxUploadSize int64
	AllowOrigins  []string
}

const contextKeyRequestID = "_repochat_request_id"

// NewApp builds a Fiber application with request-ID, access log and CORS
// middleware plus structured error rendering. Routes are registered by the
// caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.MaxUploadSize <= 0 {
		return nil, errors.New("max upload size must be positive")
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = DefaultAllowOrigins
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     int(opts.MaxUploadSize) + bodyOverhead,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(requestContextMiddleware(opts.Logger))
	app.Use(recover.New())
	app.Use(cors.New(corsConfig(origins)))

	return app, nil
}

// corsConfig 允许携带凭证，但通配来源下浏览器不接受凭证，此时关闭 AllowCredentials。
func corsConfig(origins []string) cors.Config {
	credentials := true
	for _, origin := range origins {
		if origin == "*" {
			credentials = false
			break
		}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowCredentials: credentials,
		AllowMethods:     []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions},
		AllowHeaders:     []string{fiber.HeaderContentType, fiber.HeaderAuthorization},
		ExposeHeaders:    []string{"X-Request-ID"},
	}
}

// requestContextMiddleware 负责生成请求 ID 并在请求结束后记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()
		if err != nil {
			// 先交给 ErrorHandler 写出响应，日志中的状态码才准确。
			if handlerErr := c.App().Config().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		fields := logging.RequestFields(
			reqID,
			c.Method(),
			string(c.Request().URI().Path()),
			c.Response().StatusCode(),
			time.Since(start).Milliseconds(),
		)
		logger.WithFields(fields).Info("request")
		return nil
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
