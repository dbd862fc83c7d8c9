//go:build unit

/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gracefulshutdown_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alexandremahdhaoui/tenantprobe/internal/util/gracefulshutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	gs := gracefulshutdown.NewWithExit("test", func(int) {})
	require.NotNil(t, gs)
	assert.NoError(t, gs.Context().Err(), "context should not be cancelled initially")
}

func TestGracefulShutdown_Shutdown(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
	}{
		{name: "success", exitCode: 0},
		{name: "recorded failures", exitCode: 1},
		{name: "fatal", exitCode: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured []int
			var mu sync.Mutex
			gs := gracefulshutdown.NewWithExit("test", func(code int) {
				mu.Lock()
				defer mu.Unlock()
				captured = append(captured, code)
			})

			gs.Shutdown(tt.exitCode)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, []int{tt.exitCode}, captured)
			assert.Error(t, gs.Context().Err(), "context should be cancelled")
		})
	}
}

func TestGracefulShutdown_CleanupsRunInReverseOrder(t *testing.T) {
	gs := gracefulshutdown.NewWithExit("test", func(int) {})

	var order []string
	var cleanupCtxErr error
	gs.OnShutdown(func(ctx context.Context) error {
		order = append(order, "first")
		cleanupCtxErr = ctx.Err()
		return nil
	})
	gs.OnShutdown(func(context.Context) error {
		order = append(order, "second")
		return errors.New("ignored")
	})

	gs.Shutdown(0)
	gs.Shutdown(1)

	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, cleanupCtxErr, "cleanups receive a live context")
}

func TestGracefulShutdown_ShutdownIdempotency(t *testing.T) {
	exitCallCount := 0
	var mu sync.Mutex
	gs := gracefulshutdown.NewWithExit("test", func(int) {
		mu.Lock()
		defer mu.Unlock()
		exitCallCount++
	})

	const concurrentCalls = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrentCalls; i++ {
		wg.Add(1)
		go func(exitCode int) {
			defer wg.Done()
			gs.Shutdown(exitCode)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, exitCallCount)
}
