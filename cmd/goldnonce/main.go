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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/logging"
	"github.com/blinklabs-io/goldnonce/internal/metrics"
	"github.com/blinklabs-io/goldnonce/internal/version"
)

const programName = "goldnonce"

type globalOptions struct {
	ConfigFile string `short:"c" long:"config" description:"path to config file to load"`
	Debug      bool   `short:"d" long:"debug"  description:"enable debug logging"`
}

var (
	globalOpts globalOptions
	parser     = flags.NewParser(&globalOpts, flags.HelpFlag|flags.PassDoubleDash)
)

func init() {
	mustAddCommand("slave", "search one partition and publish the result", &slaveCommand{})
	mustAddCommand("local", "search on this machine only", &localCommand{})
	mustAddCommand("master", "search with a fixed number of workers", &masterCommand{})
	mustAddCommand("auto", "search with an estimated number of workers", &autoCommand{})
	mustAddCommand("queue-serve", "serve a durable result queue over gRPC", &queueServeCommand{})
	mustAddCommand("timing", "summarize coordinator logs as CSV", &timingCommand{})
	mustAddCommand("version", "show version", &versionCommand{})
}

func mustAddCommand(name string, description string, data any) {
	if _, err := parser.AddCommand(name, description, "", data); err != nil {
		panic(err)
	}
}

func main() {
	parser.Name = programName
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}
		if _, ok := command.(*versionCommand); !ok {
			if err := setup(); err != nil {
				return err
			}
		}
		return command.Execute(args)
	}
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			os.Exit(1)
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// setup loads config and starts the ambient services shared by all commands
func setup() error {
	cfg, err := config.Load(globalOpts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if globalOpts.Debug {
		cfg.Logging.Debug = true
	}
	logging.Setup(cfg)
	if _, err := maxprocs.Set(
		maxprocs.Logger(func(msg string, args ...any) {
			slog.Debug(fmt.Sprintf(msg, args...))
		}),
	); err != nil {
		slog.Warn(
			fmt.Sprintf("failed to set GOMAXPROCS: %s", err),
		)
	}
	slog.Debug(
		fmt.Sprintf("%s %s", programName, version.GetVersionString()),
	)
	if err := metrics.Start(cfg); err != nil {
		return fmt.Errorf("failed to start metrics listener: %w", err)
	}
	return nil
}

// signalContext is cancelled on interrupt or SIGTERM, which is how workers
// are stopped by the ssh and exec provisioners
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type versionCommand struct{}

func (c *versionCommand) Execute(args []string) error {
	fmt.Printf("%s %s\n", programName, version.GetVersionString())
	return nil
}
