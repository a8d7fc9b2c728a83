package worker

import (
	"context"
	"sync"

	"wsa/simfeed/internal/framework"
	"wsa/simfeed/pkg/lmstfyx"
	"wsa/simfeed/pkg/logger"
)

// Worker 接口
type Worker interface {
	Start()
	Shutdown()
	GetName() string
}

// WorkerInstance 告警动作 Worker：Subscriber 拉取 + Processor 执行
type WorkerInstance struct {
	ctx        context.Context
	name       string
	subscriber *framework.Subscriber
	processor  *framework.Processor
	inputChan  chan *framework.Message
	shutdownCh chan struct{}
	logger     logger.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWorkerInstance 创建 Worker 实例
func NewWorkerInstance(
	ctx context.Context,
	name string,
	subscriberCfg *framework.SubscriberConfig,
	processorCfg *framework.ProcessorConfig,
	source framework.MessageSource,
	proc lmstfyx.Proc, // 注入 GetProcess
	log logger.Logger,
) (Worker, error) {
	inputChan := make(chan *framework.Message, processorCfg.BufferSize)

	return &WorkerInstance{
		ctx:        ctx,
		name:       name,
		subscriber: framework.NewSubscriber(subscriberCfg, source, log),
		processor:  framework.NewProcessor(processorCfg, proc, source, log),
		inputChan:  inputChan,
		shutdownCh: make(chan struct{}),
		logger:     log,
	}, nil
}

// Start 启动 Worker
func (w *WorkerInstance) Start() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true

	// 1. 启动 Processor
	_ = w.processor.Start(w.ctx, w.inputChan)

	// 2. 启动 Subscriber
	_ = w.subscriber.Start(w.ctx, w.inputChan)
	w.mu.Unlock()

	w.logger.Infof(w.ctx, "[Worker] %s started", w.name)

	// 3. 阻塞，等待关闭指令
	<-w.shutdownCh
}

// Shutdown 优雅退出（4 步链路）
func (w *WorkerInstance) Shutdown() {
	w.logger.Infof(w.ctx, "[Worker] %s began to close", w.name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if !w.started {
		close(w.shutdownCh)
		return
	}

	// 1. 停止拉取新消息
	w.subscriber.Stop()

	// 2. 等待 Subscriber 完全退出
	w.subscriber.Wait()

	// 3. 通知 Processor 进入 Drain 模式
	w.processor.SignalShutdown()

	// 4. 等待 Processor 处理完剩余消息
	w.processor.Wait()

	close(w.shutdownCh)
	w.logger.Infof(w.ctx, "[Worker] %s shutdown complete", w.name)
}

// GetName 获取 Worker 名称
func (w *WorkerInstance) GetName() string {
	return w.name
}
