package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dephost/dephost/internal/cache"
	"github.com/dephost/dephost/internal/config"
	"github.com/dephost/dephost/internal/fetch"
	"github.com/dephost/dephost/internal/logging"
	"github.com/dephost/dephost/internal/server"
	"github.com/dephost/dephost/internal/upstream"
	"github.com/dephost/dephost/internal/version"

	_ "github.com/dephost/dephost/internal/ecosystem/debian"
	_ "github.com/dephost/dephost/internal/ecosystem/pypi"
)

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
		fields["ecosystems"] = cfg.Ecosystems()
		fields["sources"] = config.SourceSummaries(cfg.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := upstream.NewRegistry(cfg.Sources)
	if err != nil {
		fmt.Fprintf(stdErr, "构建上游注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序遵循"配置 → 上游注册表 → 磁盘缓存 → Coordinator → 清理协程 → Fiber server"，
	// 保证所有请求共享同一份 in-flight 表与缓存实例。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	prober := upstream.NewProber(registry, cfg.Global.ProbeCooldown.DurationValue())
	client := upstream.NewClient(cfg)
	coordinator := fetch.NewCoordinator(store, prober, client, logger, fetch.Options{
		Retention:         cfg.Global.Retention.DurationValue(),
		ServeStaleOnError: cfg.Global.ServeStaleOnError,
	})

	sweeper := cache.NewSweeper(store, coordinator.Active, logger, cache.SweeperOptions{
		Retention: cfg.Global.Retention.DurationValue(),
		MaxBytes:  cfg.Global.MaxCacheSize,
		Interval:  cfg.Global.SweepInterval.DurationValue(),
	})
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["ecosystems"] = cfg.Ecosystems()
	fields["sources"] = config.SourceSummaries(cfg.Sources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, coordinator, store, prober, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("dephost", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DEPHOST_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DEPHOST_CONFIG")
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

func startHTTPServer(
	cfg *config.Config,
	coordinator *fetch.Coordinator,
	store cache.Store,
	prober *upstream.Prober,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	handler := server.NewArtifactHandler(coordinator, store, logger)
	status := server.NewStatusHandler(store, prober, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		Status:     status,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
