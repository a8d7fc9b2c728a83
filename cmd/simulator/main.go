package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wsa/simfeed/internal/dashboard"
	"wsa/simfeed/internal/worker"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/simulator.yaml", "配置文件路径（为空时使用内置实时监控配置）")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  SimFeed Simulator Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}
	log.Printf("Config loaded: %s, env: %s, log_level: %s, dashboards: %d\n",
		cfg.App.Name, cfg.App.Env, cfg.App.LogLevel, len(cfg.Dashboards))

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 创建 Manager
	mgr, err := worker.NewManagerInstance(cfg, zapLogger, worker.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	// 4. 创建 HTTP Server（可选）
	var (
		srv       *dashboard.Server
		server    *http.Server
		serverErr = make(chan error, 1)
	)
	if cfg.Server.Enable {
		srv = dashboard.NewServer(mgr, cfg.Server, prometheus.DefaultGatherer, zapLogger)
		server = &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// 5. 启动 Manager（goroutine）
	mgrErr := make(chan error, 1)
	go func() {
		mgrErr <- mgr.Start()
	}()
	select {
	case <-mgr.Ready():
	case err := <-mgrErr:
		log.Fatalf("Manager start failed: %v", err)
	}

	// 6. 启动 HTTP Server（goroutine）
	if server != nil {
		go func() {
			log.Printf("Starting HTTP server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Println("Simulator started. Press Ctrl+C to shutdown.")

	// 7. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v, shutting down...", sig)
	case err := <-serverErr:
		log.Printf("HTTP server error: %v, shutting down...", err)
	case err := <-mgrErr:
		if err != nil {
			log.Printf("Manager start failed: %v, shutting down...", err)
		}
	}

	gracefulShutdown(mgr, srv, server)
	log.Println("Simulator exited gracefully")
}

// loadConfig 路径为空时使用内置配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// gracefulShutdown 优雅停机：先停数据源，再停对外服务
func gracefulShutdown(mgr *worker.ManagerInstance, srv *dashboard.Server, server *http.Server) {
	log.Println("Stopping manager...")
	mgr.Shutdown()

	if server == nil {
		return
	}

	log.Println("Stopping HTTP server...")
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}
}
