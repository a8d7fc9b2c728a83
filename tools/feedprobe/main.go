package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"wsa/simfeed/internal/domains"
	"wsa/simfeed/internal/domains/common/job"
	"wsa/simfeed/internal/telemetry"
	"wsa/simfeed/internal/worker"
	"wsa/simfeed/pkg/config"
	"wsa/simfeed/pkg/infra/redis"
	"wsa/simfeed/pkg/lmstfy"
	"wsa/simfeed/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/simulator.yaml", "配置文件路径（为空时使用内置配置）")
	boardName  = flag.String("dashboard", "", "看板名称（默认第一个）")
	ticks      = flag.Int("ticks", 30, "模拟秒数")
	seed       = flag.Int64("seed", 42, "随机种子（0 表示使用配置中的种子）")
	enqueue    = flag.Bool("enqueue", false, "将生成的告警作为 alert_inject 任务投递到 lmstfy")
	watch      = flag.Bool("watch", false, "订阅 Redis 频道，打印运行中模拟器的事件（持续 ticks 秒）")
)

func main() {
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("  FeedProbe - 看板数据离线探测工具")
	fmt.Println("========================================")

	// 1. 加载配置
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("❌ Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *watch {
		if err := watchRedis(cfg, time.Duration(*ticks)*time.Second); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		return
	}

	dc, err := pickDashboard(cfg, *boardName)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if *seed != 0 {
		dc.Seed = *seed
	}
	fmt.Printf("✅ Dashboard: %s (seed=%d, metrics=%d)\n", dc.Name, dc.Seed, len(dc.Metrics))

	// 2. 初始化投递（可选）
	var publisher *jobPublisher
	if *enqueue {
		publisher, err = newJobPublisher(cfg)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✅ Enqueue enabled: queue=%s\n", publisher.queue)
	}

	// 3. 构建看板（手动时钟，不启动定时器）
	clock := telemetry.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	d, err := worker.NewDashboard(dc, logger.NewNopLogger(), nil, clock)
	if err != nil {
		fmt.Printf("❌ Failed to build dashboard: %v\n", err)
		os.Exit(1)
	}

	// 4. 逐秒推进
	stats := &probeStats{}
	for sec := 1; sec <= *ticks; sec++ {
		clock.Advance(time.Second)
		line := []string{fmt.Sprintf("t=%03ds", sec)}

		for _, m := range dc.Metrics {
			if !due(sec, m.Cadence) {
				continue
			}
			v, err := d.Scheduler().TickMetric(m.ID)
			if err != nil {
				stats.faults++
				line = append(line, fmt.Sprintf("%s=ERR(%v)", m.ID, err))
				continue
			}
			stats.metricTicks++
			line = append(line, fmt.Sprintf("%s=%s", m.ID, v))
		}

		if inj, err := d.Alerts(); err == nil && due(sec, dc.Alerts.Cadence) {
			if ev, ok := inj.Tick(); ok {
				stats.alerts++
				line = append(line, fmt.Sprintf("ALERT[%s %s @%s %s]", ev.Severity, ev.Type, ev.Location, ev.CameraID))
				if publisher != nil {
					publisher.send(dc.Name, ev)
				}
			}
		}

		if conn, err := d.Connection(); err == nil && due(sec, dc.Connection.Cadence) {
			before := conn.Current().State
			if after := conn.Tick(); after != before {
				stats.transitions++
				line = append(line, fmt.Sprintf("CONN[%s->%s]", before, after))
			}
		}

		if len(line) > 1 {
			fmt.Println(strings.Join(line, "  "))
		}
	}

	// 5. 输出汇总
	snap := d.Snapshot()
	fmt.Println("========================================")
	fmt.Printf("  Metric ticks: %d, faults: %d\n", stats.metricTicks, stats.faults)
	fmt.Printf("  Alerts: %d (active %d / log %d)\n", stats.alerts, snap.Alerts.Active, snap.Alerts.Total)
	fmt.Printf("  Connection transitions: %d\n", stats.transitions)
	if publisher != nil {
		fmt.Printf("  Enqueued: %d, failed: %d\n", publisher.sent, publisher.failed)
	}
	for _, m := range snap.Metrics {
		fmt.Printf("  %-24s %s\n", m.ID, m.Value)
	}
	fmt.Println("========================================")
}

type probeStats struct {
	metricTicks int
	faults      int
	alerts      int
	transitions int
}

// due 节奏不足 1 秒时按每秒触发
func due(sec int, cadence time.Duration) bool {
	step := int(cadence / time.Second)
	if step <= 1 {
		return true
	}
	return sec%step == 0
}

func pickDashboard(cfg *config.Config, name string) (config.DashboardConfig, error) {
	if len(cfg.Dashboards) == 0 {
		return config.DashboardConfig{}, fmt.Errorf("no dashboards configured")
	}
	if name == "" {
		return cfg.Dashboards[0], nil
	}
	for _, dc := range cfg.Dashboards {
		if dc.Name == name {
			return dc, nil
		}
	}
	return config.DashboardConfig{}, fmt.Errorf("dashboard %q not found", name)
}

// jobPublisher 把告警投递为 alert_inject 任务
type jobPublisher struct {
	client *lmstfy.Client
	queue  string
	sent   int
	failed int
}

func newJobPublisher(cfg *config.Config) (*jobPublisher, error) {
	if len(cfg.Workers) == 0 {
		return nil, fmt.Errorf("enqueue requires a worker queue in config")
	}
	client, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create lmstfy client: %w", err)
	}
	return &jobPublisher{client: client, queue: cfg.Workers[0].QueueName}, nil
}

func (p *jobPublisher) send(dashboard string, ev telemetry.AlertEvent) {
	data, err := domains.EncodeJob(job.ActionTypeAlertInject, ev.ID, job.AlertInjectData{
		Dashboard:   dashboard,
		Severity:    string(ev.Severity),
		Type:        ev.Type,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		CameraID:    ev.CameraID,
	})
	if err == nil {
		_, err = p.client.Publish(p.queue, data, 0, 0)
	}
	if err != nil {
		p.failed++
		fmt.Printf("  ⚠️  enqueue %s failed: %v\n", ev.ID, err)
		return
	}
	p.sent++
}

// watchRedis 打印 Redis 频道上的事件
func watchRedis(cfg *config.Config, d time.Duration) error {
	pub, err := redis.NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	sub := pub.Subscribe(ctx)
	defer sub.Close()
	fmt.Printf("✅ Watching channel %s for %s\n", pub.Channel(), d)

	count := 0
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			count++
			fmt.Println(msg.Payload)
		case <-ctx.Done():
			fmt.Printf("  Received %d events\n", count)
			return nil
		}
	}
}
