package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/repochat/repochat/internal/repoerr"
)

// errorPayload 是所有错误响应的 JSON 结构。
type errorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// StatusFor 将错误种类映射为 HTTP 状态码。
func StatusFor(kind repoerr.Kind) int {
	switch repoerr.CategoryOf(kind) {
	case repoerr.CategoryInput:
		return fiber.StatusBadRequest
	case repoerr.CategoryNotFound:
		return fiber.StatusNotFound
	case repoerr.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// RenderError 输出错误响应；detail 只使用固定文案，不回显内部错误。
func RenderError(c fiber.Ctx, err error) error {
	kind := repoerr.KindOf(err)
	if kind == "" {
		kind = repoerr.IOFailure
	}
	return c.Status(StatusFor(kind)).JSON(errorPayload{
		Error:  string(kind),
		Detail: repoerr.PublicMessage(err),
	})
}

// errorHandler 兜底处理 handler 返回的错误：fiber.Error 保留其状态码，其余按错误种类渲染。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if fe.Code == fiber.StatusRequestEntityTooLarge {
				return RenderError(c, repoerr.Wrap(err, repoerr.FileTooLarge, "request body limit"))
			}
			return c.Status(fe.Code).JSON(errorPayload{
				Error:  "HTTP_ERROR",
				Detail: fe.Message,
			})
		}
		if repoerr.KindOf(err) == "" {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "error_handler",
				"request_id": RequestID(c),
			}).Error("unclassified handler error")
		}
		return RenderError(c, err)
	}
}
