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

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/private-chat/shellcache/internal/config"
	"github.com/private-chat/shellcache/internal/lifecycle"
	"github.com/private-chat/shellcache/internal/logging"
	"github.com/private-chat/shellcache/internal/router"
	"github.com/private-chat/shellcache/internal/server"
	"github.com/private-chat/shellcache/internal/server/routes"
	"github.com/private-chat/shellcache/internal/strategy"
	"github.com/private-chat/shellcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

// envOptions 是可由环境变量覆盖的启动参数。
type envOptions struct {
	ConfigPath string `env:"SHELLCACHE_CONFIG"`
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

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

	bindings, err := router.ResolveBindings(cfg.Strategy)
	if err != nil {
		fmt.Fprintf(stdErr, "策略绑定无效: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Cache.Upstream
		fields["partitions"] = partitionSummary(cfg)
		fields["bindings"] = bindingSummary(bindings)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	// 启动顺序：配置 → 存储 → 分区管理 → 回源客户端 → 路由 → worker → 会话库 → Fiber。
	gw, err := newGateway(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化网关失败: %v\n", err)
		return 1
	}
	defer gw.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["upstream"] = cfg.Cache.Upstream
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["partitions"] = partitionSummary(cfg)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// install/activate 在后台进行，期间请求原样透传；重试耗尽后停止服务。
	go func() {
		if err := gw.Bootstrap(ctx); err != nil {
			cancel(fmt.Errorf("%w: %w", errBootstrap, err))
		}
	}()

	if err := startHTTPServer(ctx, cfg, gw, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	if cause := context.Cause(ctx); errors.Is(cause, errBootstrap) {
		fmt.Fprintf(stdErr, "网关启动失败: %v\n", cause)
		return 1
	}
	return 0
}

var errBootstrap = errors.New("bootstrap failed")

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	var envOpts envOptions
	if err := env.Parse(&envOpts); err != nil {
		return cliOptions{}, fmt.Errorf("解析环境变量失败: %w", err)
	}

	path := envOpts.ConfigPath
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

func startHTTPServer(ctx context.Context, cfg *config.Config, gw *gateway, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      gw.ProxyHandler(),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, gw.worker)
	routes.RegisterSessionRoutes(app, gw.sessions, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务停止")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func partitionSummary(cfg *config.Config) map[string]string {
	names := lifecycle.NewNames(cfg.Cache.Tags())
	return map[string]string{
		"shell":   names.Shell(),
		"runtime": names.Runtime(),
		"model":   names.Model(),
	}
}

func bindingSummary(bindings map[router.Class]strategy.Descriptor) map[string]string {
	out := make(map[string]string, len(bindings))
	for class, desc := range bindings {
		out[class.String()] = desc.Key
	}
	return out
}
