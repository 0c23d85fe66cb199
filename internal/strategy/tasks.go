package strategy

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var discardLogger = func() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}()

// Tasks 运行与请求生命周期解耦的后台写入；错误只记录日志，不回传给调用方。
type Tasks struct {
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// NewTasks 创建后台任务组。
func NewTasks(logger *logrus.Logger) *Tasks {
	if logger == nil {
		logger = discardLogger
	}
	return &Tasks{logger: logger}
}

// Go 在独立 goroutine 中执行 fn。传入的 ctx 只提供取值，其取消不会传递给 fn。
func (t *Tasks) Go(ctx context.Context, name string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.WithFields(logrus.Fields{
					"action": "background",
					"task":   name,
				}).Errorf("background task panic: %v", r)
			}
		}()
		if err := fn(detached); err != nil {
			t.logger.WithFields(logrus.Fields{
				"action": "background",
				"task":   name,
			}).WithError(err).Debug("background task failed")
		}
	}()
}

// Wait 阻塞直到所有已启动的后台任务结束，供测试与优雅退出使用。
func (t *Tasks) Wait() {
	t.wg.Wait()
}
