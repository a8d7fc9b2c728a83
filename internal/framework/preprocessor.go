package framework

import (
	"context"
	"fmt"
)

// PreProcessor 函数链处理器
type PreProcessor struct {
	names []string
	funcs []ProcessorFunc
}

// NewPreProcessor 创建函数链处理器
func NewPreProcessor() *PreProcessor {
	return &PreProcessor{}
}

// Then 追加一个具名步骤
func (p *PreProcessor) Then(name string, fn ProcessorFunc) *PreProcessor {
	p.names = append(p.names, name)
	p.funcs = append(p.funcs, fn)
	return p
}

// Run 按顺序执行函数链
// 任一函数返回 error 则立即停止，错误链保留原始错误
func (p *PreProcessor) Run(ctx context.Context) error {
	for i, fn := range p.funcs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %s aborted: %w", p.names[i], err)
		}
		if err := fn(ctx); err != nil {
			return fmt.Errorf("step %s failed: %w", p.names[i], err)
		}
	}
	return nil
}
