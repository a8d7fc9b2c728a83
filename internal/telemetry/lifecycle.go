package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// loopGroup 一组共享生命周期的定时协程
//
// 每次 start/stop 都会推进 generation，每个回调前比对 generation。
// stop 返回时，已通过比对的回调最多还会完成一次；wait 返回后不再有任何回调。
type loopGroup struct {
	mu         sync.Mutex
	running    *atomic.Bool
	stopped    *atomic.Bool
	generation *atomic.Uint64
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func newLoopGroup() *loopGroup {
	return &loopGroup{
		running:    atomic.NewBool(false),
		stopped:    atomic.NewBool(false),
		generation: atomic.NewUint64(0),
	}
}

// start 从父 Context 派生子 Context；已在运行时返回 false
func (g *loopGroup) start(parent context.Context) (context.Context, uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil, 0, false
	}

	ctx, cancel := context.WithCancel(parent)
	g.ctx = ctx
	g.cancelFunc = cancel
	gen := g.generation.Inc()
	g.stopped.Store(false)
	g.running.Store(true)
	return ctx, gen, true
}

// stop 取消所有协程，可重复调用
func (g *loopGroup) stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped.Store(true)
	if !g.running.CAS(true, false) {
		return false
	}

	g.generation.Inc()
	g.cancelFunc()
	return true
}

// current 返回运行中的 Context 和 generation
func (g *loopGroup) current() (context.Context, uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running.Load() {
		return nil, 0, false
	}
	return g.ctx, g.generation.Load(), true
}

// live 判断 generation 是否仍有效
func (g *loopGroup) live(gen uint64) bool {
	return g.generation.Load() == gen
}

// spawn 启动一个按固定周期执行 fn 的协程，ctx 取消后退出
func (g *loopGroup) spawn(ctx context.Context, every time.Duration, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// select 随机选择就绪分支，取消优先
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
}

// wait 等待所有协程退出
func (g *loopGroup) wait() {
	g.wg.Wait()
}
