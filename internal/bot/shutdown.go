// internal/bot/shutdown.go
package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc адаптирует функцию к io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// ShutdownHandler закрывает зарегистрированные сервисы в обратном порядке
// регистрации. Зависшее закрытие одного сервиса не блокирует остальные.
type ShutdownHandler struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
	timeout  time.Duration
}

type namedService struct {
	name   string
	closer io.Closer
}

func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add регистрирует сервис; закрытие идёт в порядке LIFO.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// AddFunc регистрирует функцию закрытия.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Shutdown закрывает все сервисы в обратном порядке под общим таймаутом.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sh.timeout)
	defer cancel()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var wg sync.WaitGroup
	closeErrors := make(chan error, len(services))

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		wg.Add(1)

		go func(s namedService) {
			defer wg.Done()

			done := make(chan error, 1)
			go func() {
				sh.logger.Info("Shutting down service", zap.String("service", s.name))
				done <- s.closer.Close()
			}()

			select {
			case err := <-done:
				if err != nil {
					sh.logger.Error("Failed to shutdown service",
						zap.String("service", s.name), zap.Error(err))
					closeErrors <- fmt.Errorf("%s: %w", s.name, err)
					return
				}
				sh.logger.Info("Service shutdown complete", zap.String("service", s.name))
			case <-ctx.Done():
				sh.logger.Error("Shutdown timeout for service", zap.String("service", s.name))
				closeErrors <- fmt.Errorf("%s: shutdown timeout", s.name)
			}
		}(svc)
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-ctx.Done():
		sh.logger.Error("Shutdown timeout exceeded")
	}

	close(closeErrors)
	failed := 0
	for err := range closeErrors {
		failed++
		sh.logger.Error("Shutdown error", zap.Error(err))
	}
	if failed == 0 {
		sh.logger.Info("Graceful shutdown completed successfully")
	}
}
