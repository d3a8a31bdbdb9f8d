package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/share-gate/share-gate/internal/cache"
	"github.com/share-gate/share-gate/internal/config"
	"github.com/share-gate/share-gate/internal/lifecycle"
	"github.com/share-gate/share-gate/internal/logging"
	"github.com/share-gate/share-gate/internal/proxy"
	"github.com/share-gate/share-gate/internal/server"
	"github.com/share-gate/share-gate/internal/server/routes"
	"github.com/share-gate/share-gate/internal/sharetarget"
	"github.com/share-gate/share-gate/internal/version"
)

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

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = len(cfg.Sites)
		fields["versions"] = config.SiteVersions(cfg.Sites)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newGateway(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer rt.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["versions"] = config.SiteVersions(cfg.Sites)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 所有站点完成 安装 → 激活 后才开始监听，请求不会读到未填充完毕的代际。
	if err := rt.supervisor.RunAll(ctx); err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("lifecycle", opts.configPath)).
			Warn("部分站点旧代际清理失败，继续启动")
	}

	if err := serveHTTP(ctx, rt.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("share-gate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHARE_GATE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHARE_GATE_CONFIG")
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

// gateway 聚合一次进程生命周期内共享的组件。
type gateway struct {
	app        *fiber.App
	store      cache.Store
	supervisor *lifecycle.Supervisor
	writer     *cache.WriteBack
	history    *sharetarget.History
	logger     *logrus.Logger
}

// newGateway 按“SiteRegistry → 缓存存储 → 各站点 Manager/Worker → 代理 → Fiber app”顺序装配。
func newGateway(cfg *config.Config, logger *logrus.Logger) (*gateway, error) {
	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建站点注册表失败: %w", err)
	}

	store, err := cache.Open(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	supervisor := lifecycle.NewSupervisor(logger, cfg.Global.InstallTimeout.DurationValue())
	for _, route := range registry.List() {
		manager, err := cache.NewManager(cache.ManagerOptions{
			Site:    route.Config.Name,
			Version: route.Config.CacheVersion,
			Store:   store,
			Fetcher: proxy.NewOrigin(httpClient, route.OriginURL, cfg.Global.MaxCacheableSize),
			Logger:  logger,
		})
		if err == nil {
			var worker *lifecycle.Worker
			worker, err = lifecycle.NewWorker(manager, route.Config.Assets, logger)
			if err == nil {
				err = supervisor.Add(worker)
			}
		}
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("site %s: %w", route.Config.Name, err)
		}
	}

	writer := cache.NewWriteBack(logger, cfg.Global.UpstreamTimeout.DurationValue())
	history := sharetarget.NewHistory(cfg.Global.HistoryLimit)
	handler, err := proxy.NewHandler(proxy.Options{
		Client:           httpClient,
		Logger:           logger,
		Managers:         supervisor,
		WriteBack:        writer,
		History:          history,
		MaxCacheableSize: cfg.Global.MaxCacheableSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewForwarder(handler, handler.ShareHandler(), logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, registry, supervisor, history)

	return &gateway{
		app:        app,
		store:      store,
		supervisor: supervisor,
		writer:     writer,
		history:    history,
		logger:     logger,
	}, nil
}

// close 等待未完成的写回后关闭存储。
func (rt *gateway) close() {
	rt.writer.Wait()
	if err := rt.store.Close(); err != nil {
		rt.logger.WithError(err).WithField("action", "shutdown").Warn("cache_store_close_failed")
	}
}

func serveHTTP(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭异常")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
