// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging configures the slog default logger and the logr logger
// handed to every tenantprobe component.
//
// Logs always go to a dedicated writer (stderr by default): stdout is
// reserved for machine-readable output such as generated credentials.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options configures the logger behavior.
type Options struct {
	// Development enables human-readable console output.
	Development bool

	// Verbose enables V(1) logs such as executed commands.
	Verbose bool

	// Writer receives the logs. Defaults to os.Stderr.
	Writer io.Writer
}

// Setup configures both slog and the controller-runtime logger and returns
// the latter.
func Setup(opts Options) logr.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	slogLevel := slog.LevelInfo
	zapLevel := zapcore.InfoLevel
	if opts.Verbose {
		slogLevel = slog.LevelDebug
		zapLevel = zapcore.Level(-1)
	}

	var handler slog.Handler
	if opts.Development {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel})
	}
	slog.SetDefault(slog.New(handler))

	logger := zap.New(
		zap.UseDevMode(opts.Development),
		zap.WriteTo(w),
		zap.Level(zapLevel),
	)
	ctrl.SetLogger(logger)

	return logger
}
