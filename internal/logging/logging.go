// Copyright 2025 Blink Labs Software
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

package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/blinklabs-io/goldnonce/internal/config"
)

// Setup configures the default slog logger from the loaded config. Output goes
// to stderr so that command results printed to stdout stay machine readable
func Setup(cfg *config.Config) {
	SetupWithWriter(cfg, os.Stderr)
}

func SetupWithWriter(cfg *config.Config, w io.Writer) {
	level := slog.LevelInfo
	if cfg.Logging.Debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(
		w,
		&slog.HandlerOptions{
			Level: level,
		},
	)
	slog.SetDefault(slog.New(handler).With("component", "goldnonce"))
}

// GetLogger returns the default logger
func GetLogger() *slog.Logger {
	return slog.Default()
}
