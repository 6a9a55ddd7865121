package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/repochat/repochat/internal/config"
	"github.com/repochat/repochat/internal/logging"
	"github.com/repochat/repochat/internal/repository"
	"github.com/repochat/repochat/internal/retrieval"
	"github.com/repochat/repochat/internal/retrieval/localindex"
	"github.com/repochat/repochat/internal/retrieval/openai"
	"github.com/repochat/repochat/internal/server"
	"github.com/repochat/repochat/internal/server/routes"
	"github.com/repochat/repochat/internal/service"
	"github.com/repochat/repochat/internal/session"
	"github.com/repochat/repochat/internal/upload"
	"github.com/repochat/repochat/internal/version"
)

// configEnv 指定配置文件路径的环境变量，优先级低于 -config。
const configEnv = "REPOCHAT_CONFIG"

// shutdownTimeout 是收到信号后等待在途请求完成的上限。
const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logging.CloseOutput(logger)

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["api_type"] = cfg.Retrieval.APIType
		fields["credentials"] = cfg.Retrieval.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 检索后端 → 会话缓存 → Fiber server，
	// 所有请求共享同一份存储与会话缓存实例。
	app, sessions, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer sessions.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["max_upload_size"] = cfg.Global.MaxUploadSize.Int64()
	fields["session_cache_size"] = cfg.Global.SessionCacheSize
	fields["api_type"] = cfg.Retrieval.APIType
	fields["credentials"] = cfg.Retrieval.AuthMode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 组装存储、检索后端、会话缓存与路由，返回可监听的 Fiber 应用。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *session.Cache, error) {
	validator := upload.NewValidator(cfg.Global.MaxUploadSize.Int64(), cfg.Global.AllowedExtensions)
	store, err := repository.NewStore(cfg.Global.StoragePath, validator, repository.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("初始化存储目录失败: %w", err)
	}

	client, err := openai.New(openai.Options{
		BaseURL:        cfg.Retrieval.BaseURL,
		APIKey:         cfg.Retrieval.APIKey,
		APIType:        cfg.Retrieval.APIType,
		APIVersion:     cfg.Retrieval.APIVersion,
		ChatModel:      cfg.Retrieval.ChatModel,
		EmbeddingModel: cfg.Retrieval.EmbeddingModel,
		Temperature:    cfg.Retrieval.Temperature,
		HTTPClient:     server.NewUpstreamClient(cfg),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("初始化检索后端失败: %w", err)
	}

	pipeline := retrieval.NewPipeline(client, localindex.Loader{FileName: cfg.Retrieval.IndexFile}, client)
	builder := retrieval.NewSessionFactory(pipeline, retrieval.SearchOptions{
		Mode:   retrieval.ModeDiversity,
		K:      cfg.Retrieval.K,
		FetchK: cfg.Retrieval.FetchK,
		Lambda: cfg.Retrieval.Lambda,
	})
	sessions := session.NewCache(builder,
		session.WithCapacity(cfg.Global.SessionCacheSize),
		session.WithLogger(logger),
	)

	svc, err := service.New(store, sessions, logger)
	if err != nil {
		return nil, nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		MaxUploadSize: validator.MaxSize(),
		AllowOrigins:  cfg.Global.CORSAllowOrigins,
	})
	if err != nil {
		return nil, nil, err
	}
	routes.RegisterAPIRoutes(app, svc)
	routes.RegisterDiagnosticRoutes(app, sessions)
	return app, sessions, nil
}

// serve 监听端口直到 ctx 结束，然后在 shutdownTimeout 内优雅关闭。
func serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("repochat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
