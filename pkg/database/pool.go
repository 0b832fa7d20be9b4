package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// backendPool holds the process-wide Backend used by the serverless entry.
// The long-running server builds its Backend with NewBackend and passes it down
// explicitly; only api.Handler goes through GetBackend.
type backendPool struct {
	instance *Backend
	config   BackendConfig
	lastUsed time.Time
}

var (
	globalPool *backendPool
	poolMutex  sync.Mutex
)

// idleRecreateAfter is how long a cached backend may sit unused before it is rebuilt.
const idleRecreateAfter = 30 * time.Minute

// GetBackend 获取进程级后端（单例模式）.
// The backend is created on first use and reused across warm invocations. It is
// rebuilt when the config changes, after a long idle period, or when its health
// check fails.
func GetBackend(ctx context.Context, config BackendConfig) (*Backend, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if globalPool != nil && !shouldRecreate(ctx, globalPool, config, logger) {
		globalPool.lastUsed = time.Now()
		return globalPool.instance, nil
	}

	if globalPool != nil {
		globalPool.instance.Close()
		globalPool = nil
	}

	instance, err := NewBackend(config)
	if err != nil {
		return nil, err
	}
	logger.Info("created backend", "kind", instance.Kind)

	globalPool = &backendPool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

// shouldRecreate 判断是否需要重新创建后端
func shouldRecreate(ctx context.Context, pool *backendPool, config BackendConfig, logger *slog.Logger) bool {
	if pool.instance == nil {
		return true
	}

	if !configEquals(pool.config, config) {
		logger.Info("backend configuration changed, recreating")
		return true
	}

	if time.Since(pool.lastUsed) > idleRecreateAfter {
		logger.Info("backend idle too long, recreating")
		return true
	}

	if err := pool.instance.DB.HealthCheck(ctx); err != nil {
		logger.Warn("backend health check failed, recreating", "error", err)
		return true
	}

	return false
}

// configEquals 比较两个后端配置是否相等
func configEquals(a, b BackendConfig) bool {
	return a.UseLocalDB == b.UseLocalDB &&
		a.DataDir == b.DataDir &&
		a.PostgresDSN == b.PostgresDSN &&
		a.SupabaseURL == b.SupabaseURL &&
		a.SupabaseKey == b.SupabaseKey &&
		a.JWTSecret == b.JWTSecret &&
		a.PublicURL == b.PublicURL
}

// ResetBackend closes and forgets the process-wide backend.
func ResetBackend() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil {
		globalPool.instance.Close()
		globalPool = nil
	}
}
