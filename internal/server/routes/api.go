package routes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/repochat/repochat/internal/repoerr"
	"github.com/repochat/repochat/internal/repository"
	"github.com/repochat/repochat/internal/server"
	"github.com/repochat/repochat/internal/upload"
)

// RepositoryService 是 API 路由依赖的业务边界。
type RepositoryService interface {
	CreateRepository(ctx context.Context, rawName string, f upload.File) (repository.Record, error)
	ListRepositories(ctx context.Context) ([]repository.Record, error)
	Chat(ctx context.Context, rawName, query string) (string, error)
}

type repositoryPayload struct {
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
}

type chatRequest struct {
	Message        string `json:"message"`
	RepositoryName string `json:"repository_name"`
}

type chatResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RegisterAPIRoutes 注册 /api 下的上传、列表与问答接口。
func RegisterAPIRoutes(app *fiber.App, svc RepositoryService) {
	if app == nil || svc == nil {
		return
	}

	api := app.Group("/api")

	api.Post("/repositories", func(c fiber.Ctx) error {
		header, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "FILE_REQUIRED",
				"detail": "multipart field \"file\" is required",
			})
		}
		body, err := header.Open()
		if err != nil {
			return server.RenderError(c, repoerr.Wrap(err, repoerr.IOFailure, "open multipart file"))
		}
		defer body.Close()

		record, err := svc.CreateRepository(requestContext(c), c.Query("name"), upload.File{
			Name: header.Filename,
			Body: body,
		})
		if err != nil {
			return server.RenderError(c, err)
		}
		return c.JSON(encodeRecord(record))
	})

	api.Get("/repositories", func(c fiber.Ctx) error {
		records, err := svc.ListRepositories(requestContext(c))
		if err != nil {
			return server.RenderError(c, err)
		}
		payload := make([]repositoryPayload, 0, len(records))
		for _, record := range records {
			payload = append(payload, encodeRecord(record))
		}
		return c.JSON(payload)
	})

	api.Post("/chat", func(c fiber.Ctx) error {
		var req chatRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "INVALID_REQUEST",
				"detail": "request body must be JSON with message and repository_name",
			})
		}
		if strings.TrimSpace(req.Message) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "INVALID_REQUEST",
				"detail": "message must not be empty",
			})
		}

		answer, err := svc.Chat(requestContext(c), req.RepositoryName, req.Message)
		if err != nil {
			return server.RenderError(c, err)
		}
		return c.JSON(chatResponse{Role: "assistant", Content: answer})
	})
}

func encodeRecord(record repository.Record) repositoryPayload {
	return repositoryPayload{
		Name:      record.Name,
		Timestamp: record.Version,
		Path:      record.StoragePath,
	}
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
