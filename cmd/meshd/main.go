// Package main 提供 meshd 命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mesh "github.com/dep2p/go-mesh"
	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/pkg/lib/log"
)

var logger = log.Logger("meshd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
//
// 配置边界：
//   命令行参数：运行时覆盖 / 快速测试（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置 / 长期运行（「这个节点」的固定配置）
// ═══════════════════════════════════════════════════════════════════════════
var (
	listenAddrs = flag.String("listen", "", "监听端点，逗号分隔（如 tcp://0.0.0.0:9430）")
	configFile  = flag.String("config", "", "JSON 配置文件路径")
	preset      = flag.String("preset", "desktop", "预设配置 (mobile/desktop/server/minimal)")
	identFile   = flag.String("identity", "", "身份密钥文件路径（不存在则生成）")
	dataDir     = flag.String("data-dir", "", "数据目录（设置后启用 Badger 持久化）")
	bootstrap   = flag.String("bootstrap", "", "自举端点，逗号分隔")
	metricsAddr = flag.String("metrics-addr", "", "Prometheus 指标监听地址（如 127.0.0.1:9100）")
	logLevel    = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	logFile     = flag.String("log", "", "日志文件路径（默认输出到 stderr）")
	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		printVersion()
		return nil
	}
	if *showHelp {
		printHelp()
		return nil
	}

	logHandle, err := setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v，继续使用控制台输出日志\n", err)
	}
	if logHandle != nil {
		defer func() { _ = logHandle.Close() }()
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	// 指标导出
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, mesh.WithMetrics(reg))
		metricsSrv = serveMetrics(*metricsAddr, reg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("📦 %s\n", mesh.VersionInfo())
	logger.Info("启动网格节点", "version", mesh.Version, "commit", mesh.GitCommit)

	fmt.Println("正在启动网格节点...")
	e, err := mesh.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = e.Close() }()

	printNodeInfo(e)

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	if metricsSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = metricsSrv.Shutdown(sctx)
		scancel()
	}
	return nil
}

// buildOptions 按优先级合成引擎选项
//
// 配置优先级（从高到低）：
//  1. 命令行参数（运行时覆盖）
//  2. 环境变量（MESH_* 前缀）
//  3. 配置文件（持久化配置）
//  4. 预设默认值
func buildOptions() ([]mesh.Option, error) {
	var opts []mesh.Option

	// 1. 配置文件（持久化配置）
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	opts = append(opts, mesh.WithConfig(cfg))

	// 2. 环境变量覆盖
	applyEnvOverrides(&opts)

	// 3. 命令行参数覆盖（最高优先级）

	// 预设：显式指定时才覆盖配置文件的调优字段
	if isFlagSet("preset") {
		if !mesh.IsValidPreset(*preset) {
			return nil, fmt.Errorf("未知预设 %q", *preset)
		}
		opts = append(opts, mesh.WithPreset(*preset))
	}

	if isFlagSet("listen") && *listenAddrs != "" {
		opts = append(opts, mesh.WithListenAddrs(splitList(*listenAddrs)...))
	}
	if isFlagSet("bootstrap") && *bootstrap != "" {
		opts = append(opts, mesh.WithBootstrap(splitList(*bootstrap)...))
	}
	if isFlagSet("identity") && *identFile != "" {
		opts = append(opts, mesh.WithIdentityFile(*identFile))
	}
	if isFlagSet("data-dir") && *dataDir != "" {
		opts = append(opts, mesh.WithDataDir(*dataDir))
	}
	if isFlagSet("log-level") && *logLevel != "" {
		opts = append(opts, mesh.WithLogLevel(*logLevel))
	}

	return opts, nil
}

// applyEnvOverrides 应用 MESH_* 环境变量（低于命令行参数）
func applyEnvOverrides(opts *[]mesh.Option) {
	if v := os.Getenv("MESH_LISTEN"); v != "" && !isFlagSet("listen") {
		*opts = append(*opts, mesh.WithListenAddrs(splitList(v)...))
	}
	if v := os.Getenv("MESH_BOOTSTRAP"); v != "" && !isFlagSet("bootstrap") {
		*opts = append(*opts, mesh.WithBootstrap(splitList(v)...))
	}
	if v := os.Getenv("MESH_DATA_DIR"); v != "" && !isFlagSet("data-dir") {
		*opts = append(*opts, mesh.WithDataDir(v))
	}
	if v := os.Getenv("MESH_LOG_LEVEL"); v != "" && !isFlagSet("log-level") {
		*opts = append(*opts, mesh.WithLogLevel(v))
	}
}

// splitList 拆分逗号分隔的列表并修剪空白
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

// setupLogging 设置日志输出，-log 未指定时保持 stderr
func setupLogging() (*os.File, error) {
	if *logFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(*logFile), 0750); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	log.SetOutput(file)
	return file, nil
}

// serveMetrics 在独立端口暴露 Prometheus 指标
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务退出", "addr", addr, "err", err)
		}
	}()
	fmt.Printf("指标已暴露: http://%s/metrics\n", addr)
	return srv
}

// printNodeInfo 打印节点信息（美化输出）
//
// 输出包含可复制的端点，便于其他节点 -bootstrap 接入。
func printNodeInfo(e *mesh.Engine) {
	id := e.ID().String()
	addrs := selectDisplayAddrs(e)

	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║                     Mesh Node Started (%s)                          ║\n", mesh.Version)
	fmt.Println("╠════════════════════════════════════════════════════════════════════════╣")
	printWrappedLabel("Node ID:", id, 58)
	fmt.Println("║                                                                        ║")
	fmt.Println("║  Endpoints (share for -bootstrap):                                     ║")
	for _, addr := range addrs {
		printWrappedLine(addr, 66)
	}
	fmt.Println("║                                                                        ║")
	if *logFile != "" {
		printWrappedLabel("Log file:", *logFile, 58)
		fmt.Println("║                                                                        ║")
	}
	fmt.Println("╚════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// selectDisplayAddrs 选择可展示的连接端点，过滤不可达地址
func selectDisplayAddrs(e *mesh.Engine) []string {
	all := e.Addrs()
	connectable := make([]string, 0, len(all))
	for _, addr := range all {
		if isConnectableAddr(addr) {
			connectable = append(connectable, addr)
		}
	}
	if len(connectable) > 0 {
		return connectable
	}
	// 兜底展示全部监听端点，本机调试也要能复制
	return all
}

func isConnectableAddr(addr string) bool {
	if addr == "" {
		return false
	}
	unconnectable := []string{"://0.0.0.0:", "://[::]:", "://127.", "://localhost:"}
	for _, pattern := range unconnectable {
		if strings.Contains(addr, pattern) {
			return false
		}
	}
	return true
}

// printWrappedLine 打印可复制的长行内容（不截断）
func printWrappedLine(text string, width int) {
	for len(text) > width {
		fmt.Printf("║    %-*s  ║\n", width, text[:width])
		text = text[width:]
	}
	fmt.Printf("║    %-*s  ║\n", width, text)
}

// printWrappedLabel 打印带标签的长行内容（不截断）
func printWrappedLabel(label, text string, width int) {
	for len(text) > width {
		fmt.Printf("║  %-10s %-*s  ║\n", label, width, text[:width])
		text = text[width:]
		label = ""
	}
	fmt.Printf("║  %-10s %-*s  ║\n", label, width, text)
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Println(mesh.VersionInfo())
	fmt.Printf("Go: %s\n", runtime.Version())
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("meshd - 无服务器网格消息节点")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  meshd [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 启动一个本机测试节点")
	fmt.Println("  meshd -listen tcp://127.0.0.1:9430")
	fmt.Println()
	fmt.Println("  # 持久化身份与数据，接入已有网格")
	fmt.Println("  meshd -listen tcp://0.0.0.0:9430 -data-dir ./data \\")
	fmt.Println("        -bootstrap tcp://seed.example.com:9430")
	fmt.Println()
	fmt.Println("  # 服务器预设并暴露指标")
	fmt.Println("  meshd -preset server -listen tcp://0.0.0.0:9430 \\")
	fmt.Println("        -metrics-addr 127.0.0.1:9100")
}
