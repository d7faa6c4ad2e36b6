// Package server coordinates startup and shutdown of the process's
// long-running components with signal handling.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component. Start blocks until the service
// stops or fails; Stop asks it to wind down.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

type registration struct {
	name string
	svc  Service
}

// Lifecycle runs a set of named services, starting them in registration
// order and stopping them in reverse when the process is told to exit.
type Lifecycle struct {
	logger   *zap.Logger
	services []registration
}

// NewLifecycle creates an empty Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a service. Registration order determines start order;
// shutdown runs in reverse.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.services = append(l.services, registration{name: name, svc: svc})
}

// Run starts every registered service and blocks until SIGINT or SIGTERM
// arrives, the context is cancelled, or a service fails. It then stops
// all services in reverse order.
//
// Postcondition: every registered service has had Stop called when Run
// returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failures := make(chan error, len(l.services))
	for _, reg := range l.services {
		reg := reg
		go func() {
			l.logger.Info("starting service", zap.String("service", reg.name))
			if err := reg.svc.Start(); err != nil {
				failures <- fmt.Errorf("service %s: %w", reg.name, err)
				cancel()
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error
	select {
	case sig := <-signals:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-failures:
		l.logger.Error("service failed, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.stopAll()

	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(started)))
	return runErr
}

func (l *Lifecycle) stopAll() {
	for i := len(l.services) - 1; i >= 0; i-- {
		reg := l.services[i]
		l.logger.Info("stopping service", zap.String("service", reg.name))
		reg.svc.Stop()
	}
}
