package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/internal/deviceprov"
	"github.com/xinkaiwang/chunkmgr/internal/sim"
	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/kmetrics"
	"github.com/xinkaiwang/chunkmgr/krunloop"
	"go.opencensus.io/metric"
	"go.opencensus.io/metric/metricproducer"
)

// 构建时注入的版本信息
var Version string = "dev"       // 通过 -ldflags 注入
var GitCommit string = "unknown" // 通过 -ldflags 注入

/*
export API_PORT=8080
export METRICS_PORT=9090
export LOG_LEVEL=info
export LOG_FORMAT=json
export SIM_ACCEL_MEM_MB=16000
export SIM_HOST_MEM_MB=64000
export SIM_STEP_INTERVAL_MS=100
./bin/memsim
*/
func main() {
	ctx := context.Background()

	// 从环境变量读取日志配置
	logLevel := kcommon.GetEnvString("LOG_LEVEL", "info")
	logFormat := kcommon.GetEnvString("LOG_FORMAT", "json")
	logrusLogger := klogging.NewLogrusLogger(ctx)
	logrusLogger.SetConfig(ctx, logLevel, logFormat)
	klogging.SetDefaultLogger(logrusLogger)
	klogging.Info(ctx).With("logLevel", logLevel).With("logFormat", logFormat).Log("LogLevelSet", "")

	klogging.Info(ctx).With("version", Version).With("commit", GitCommit).Log("ServerStarting", "Starting memsim")

	// 创建 Prometheus 导出器
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "memsim",
	})
	if err != nil {
		log.Fatalf("Failed to create Prometheus exporter: %v", err)
	}
	metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry())

	// 配置
	memCfg := config.MemConfigFromEnv()
	simCfg := sim.SimConfigFromEnv()
	accelBytes := int64(kcommon.GetEnvInt("SIM_ACCEL_MEM_MB", 16000)) * 1000 * 1000
	hostBytes := int64(kcommon.GetEnvInt("SIM_HOST_MEM_MB", 64000)) * 1000 * 1000
	stepIntervalMs := kcommon.GetEnvInt("SIM_STEP_INTERVAL_MS", 100)

	provider := deviceprov.NewSimProvider(ctx, accelBytes, hostBytes)
	deviceprov.SetCurrentDeviceProvider(provider)
	trainSim := sim.NewTrainSim(ctx, simCfg, memCfg, provider)

	// manager 的 gauge 指标走独立 registry
	gaugeRegistry := metric.NewRegistry()
	metricproducer.GlobalManager().AddProducer(gaugeRegistry)
	trainSim.Manager().RegisterMetrics(ctx, gaugeRegistry)
	kmetrics.AddInt64DerivedGaugeWithLabels(ctx, gaugeRegistry,
		func() int64 { return int64(kcommon.GetHeapAlloc()) },
		"memsim_heap_alloc_bytes", "process heap bytes in use", map[string]string{})

	// run loop 驱动训练 step
	runloop := krunloop.NewRunLoop(ctx, trainSim, "memsim")
	go runloop.Run(ctx)
	stepTicker := time.NewTicker(time.Duration(stepIntervalMs) * time.Millisecond)
	go func() {
		for range stepTicker.C {
			runloop.PostEvent(sim.NewStepEvent())
		}
	}()

	// 端口配置
	apiPort := kcommon.GetEnvInt("API_PORT", 8080)
	metricsPort := kcommon.GetEnvInt("METRICS_PORT", 9090)

	// metrics 路由
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", pe)
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}

	// 主路由
	handler := sim.NewHandler(memCfg, simCfg, runloop)
	mainMux := http.NewServeMux()
	handler.RegisterRoutes(mainMux)
	mainServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", apiPort),
		Handler: mainMux,
	}

	klogging.Info(ctx).
		With("api_port", apiPort).
		With("metrics_port", metricsPort).
		With("step_interval_ms", stepIntervalMs).
		Log("ServerConfig", "Server ports configuration")

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		klogging.Info(ctx).Log("ServerShutdown", "Shutting down servers...")
		stepTicker.Stop()
		runloop.StopAndWaitForExit()

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := mainServer.Shutdown(ctx); err != nil {
			klogging.Error(ctx).With("error", err).Log("MainServerShutdownError", "Main server shutdown error")
		}
		if err := metricsServer.Shutdown(ctx); err != nil {
			klogging.Error(ctx).With("error", err).Log("MetricsServerShutdownError", "Metrics server shutdown error")
		}
	}()

	// 启动 metrics 服务器
	go func() {
		klogging.Info(ctx).With("addr", metricsServer.Addr).Log("MetricsServerStarting", "Metrics server starting")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			klogging.Error(ctx).With("error", err).Log("MetricsServerError", "Metrics server error")
		}
	}()

	// 启动主服务器
	klogging.Info(ctx).With("addr", mainServer.Addr).Log("MainServerStarting", "Main server starting")
	if err := mainServer.ListenAndServe(); err != http.ErrServerClosed {
		klogging.Error(ctx).With("error", err).Log("MainServerError", "Main server error")
	}
	klogging.Info(ctx).Log("ServerShutdown", "Servers stopped")
}
