package framework

import (
	"context"
	"sync"
	"time"

	"github.com/bitleak/lmstfy/client"

	"wsa/simfeed/pkg/errorutil"
	"wsa/simfeed/pkg/lmstfyx"
	"wsa/simfeed/pkg/logger"
)

// Processor 处理器：接收消息，调用业务处理函数，按结果 ACK
type Processor struct {
	cfg        *ProcessorConfig
	proc       lmstfyx.Proc  // 业务处理函数（注入的 GetProcess）
	source     MessageSource // 用于 ACK
	logger     Logger
	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, proc lmstfyx.Proc, source MessageSource, logger Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		proc:       proc,
		source:     source,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) error {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.concurrency())

	for i := 0; i < p.cfg.concurrency(); i++ {
		workerID := i
		p.wg.Add(1)
		go p.loop(logger.With(ctx, logger.KeyWorkerID, workerID), workerID, inputChan)
	}

	return nil
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.once.Do(func() {
		p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
		close(p.shutdownCh)
	})
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()
	p.logger.Infof(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		case msg := <-inputChan:
			p.process(ctx, msg, workerID)

		// Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			p.logger.Infof(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.process(ctx, msg, workerID)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个消息
func (p *Processor) process(ctx context.Context, msg *Message, workerID int) {
	if msg == nil {
		return
	}

	startTime := time.Now()

	procCtx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()

	p.logger.Infof(procCtx, "[Processor-%d] Processing message: %s", workerID, msg.ID)

	job := &client.Job{
		ID:    msg.ID,
		Queue: msg.Queue,
		Data:  msg.Data,
	}

	resp := p.invoke(procCtx, job)

	duration := time.Since(startTime)
	p.logger.Infof(procCtx, "[Processor-%d] Message processed: %s, action: %s, duration: %v",
		workerID, msg.ID, resp.Action, duration)

	switch resp.Action {
	case lmstfyx.JobRespStatusSuccess:
		if err := p.source.Ack(msg.Queue, msg.ID); err != nil {
			p.logger.Errorf(procCtx, "[Processor-%d] Ack failed: %s, %v", workerID, msg.ID, err)
		}
	case lmstfyx.JobRespStatusBury:
		// 不 ACK，重试次数耗尽后进入死信队列
		p.logger.Warnf(procCtx, "[Processor-%d] Message buried: %s", workerID, msg.ID)
	case lmstfyx.JobRespStatusRelease:
		p.logger.Infof(procCtx, "[Processor-%d] Message released for retry: %s", workerID, msg.ID)
	}
}

// invoke 调用业务处理函数，panic 视为不可重试
func (p *Processor) invoke(ctx context.Context, job *client.Job) (resp *lmstfyx.JobResp) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf(ctx, "[Processor] proc panic: %v", errorutil.FromPanic(r))
			resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
		}
	}()

	resp = p.proc(ctx, job)
	if resp == nil {
		resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
	}
	return resp
}
