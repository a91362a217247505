package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/disk-lens/disk-lens/internal/config"
	"github.com/disk-lens/disk-lens/internal/logging"
	"github.com/disk-lens/disk-lens/internal/progress"
	"github.com/disk-lens/disk-lens/internal/scan"
	"github.com/disk-lens/disk-lens/internal/server"
	"github.com/disk-lens/disk-lens/internal/sizecache"
	"github.com/disk-lens/disk-lens/internal/usage"
	"github.com/disk-lens/disk-lens/internal/version"
	"github.com/disk-lens/disk-lens/internal/watch"
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
		fields["du_path"] = cfg.Global.DuPath
		fields["cache_ttl"] = cfg.Global.CacheTTL.DurationValue().String()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 装配顺序遵循“配置 → 缓存 → 扫描器 → 物化服务 → Fiber server”，
	// 所有请求共享同一份缓存与进度注册表。
	store := sizecache.NewStore(cfg.Global.CacheTTL.DurationValue())
	runner := scan.NewRunner(
		cfg.Global.DuPath,
		cfg.Global.ScanTimeout.DurationValue(),
		cfg.Global.ProgressInterval.DurationValue(),
	)
	svc := usage.NewService(store, runner, logger)
	hub := progress.NewHub()

	if cfg.Global.WatchInvalidate {
		watcher, err := watch.New(store, logger)
		if err != nil {
			// 监听器只是兜底能力，创建失败降级为纯显式失效
			logger.WithError(err).WithFields(logrus.Fields{
				"action": "watch_disabled",
			}).Warn("文件系统监听不可用")
		} else {
			defer watcher.Close()
			svc.WithScanHook(watcher.Register)
		}
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["du_path"] = cfg.Global.DuPath
	fields["watch_invalidate"] = cfg.Global.WatchInvalidate
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, svc, store, hub, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("disk-lens", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 DISK_LENS_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("DISK_LENS_CONFIG")
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

func startHTTPServer(cfg *config.Config, svc *usage.Service, store *sizecache.Store, hub *progress.Hub, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Usage:  svc,
		Store:  store,
		Hub:    hub,
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
