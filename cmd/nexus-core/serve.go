package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexuscore/runtime/internal/authtoken"
	"github.com/nexuscore/runtime/internal/dispatcher"
	"github.com/nexuscore/runtime/internal/schedule"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dep, err := build(cfg)
	if err != nil {
		return err
	}

	sched := schedule.New(schedule.WithLogger(dep.logger.Slog()))
	if cfg.Cron.IdlePruneCron != "" {
		if err := sched.RegisterIdlePrune(cfg.Cron.IdlePruneCron, dep.lanes); err != nil {
			return err
		}
	}
	if cfg.Cron.ModuleHealthCron != "" {
		if err := sched.RegisterModuleHealthSweep(cfg.Cron.ModuleHealthCron, dep.modules); err != nil {
			return err
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(runCtx)
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/v1/dispatch", authtoken.Middleware(dep.auth)(dispatchHandler(dep.dispatch)))

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{Addr: addr, Handler: mux}

	dep.logger.Slog().Info("nexus-core serving", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dep.tracerShutdown != nil {
		_ = dep.tracerShutdown(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}

// dispatchHandler decodes one NormalizedMessage per request and runs it
// through the dispatcher, returning the Result as JSON.
func dispatchHandler(disp *dispatcher.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var msg dispatcher.NormalizedMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		result, err := disp.Dispatch(r.Context(), msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})
}
