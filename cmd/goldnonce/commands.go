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
	"net"
	"os"
	"strconv"
	"time"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/coordinator"
	"github.com/blinklabs-io/goldnonce/internal/estimator"
	"github.com/blinklabs-io/goldnonce/internal/miner"
	"github.com/blinklabs-io/goldnonce/internal/provisioner"
	"github.com/blinklabs-io/goldnonce/internal/queue"
	"github.com/blinklabs-io/goldnonce/internal/storage"
	"github.com/blinklabs-io/goldnonce/internal/timing"
	"github.com/blinklabs-io/goldnonce/internal/worker"
)

// applySearchArgs overrides the configured search with any given arguments.
// Positional arguments are strings so that an omitted one falls back to the
// configured default
func applySearchArgs(cfg *config.Config, block string, difficulty string) error {
	if block != "" {
		cfg.Search.Block = block
	}
	if difficulty != "" {
		d, err := strconv.Atoi(difficulty)
		if err != nil {
			return fmt.Errorf("invalid difficulty %q: %w", difficulty, err)
		}
		cfg.Search.Difficulty = d
	}
	return nil
}

type slaveCommand struct {
	Args struct {
		Block      string `positional-arg-name:"BLOCK"`
		Difficulty string `positional-arg-name:"DIFFICULTY"`
		Step       string `positional-arg-name:"STEP"`
		Start      string `positional-arg-name:"START"`
		SearchID   string `positional-arg-name:"ID"`
	} `positional-args:"yes"`
}

func (c *slaveCommand) Execute(args []string) error {
	cfg := config.GetConfig()
	if err := applySearchArgs(cfg, c.Args.Block, c.Args.Difficulty); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	partition := miner.Partition{Step: 1, Start: 0}
	if c.Args.Step != "" {
		step, err := strconv.ParseUint(c.Args.Step, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid step %q: %w", c.Args.Step, err)
		}
		partition.Step = uint32(step)
	}
	if c.Args.Start != "" {
		start, err := strconv.ParseUint(c.Args.Start, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid start %q: %w", c.Args.Start, err)
		}
		partition.Start = uint32(start)
	}
	assignment := worker.Assignment{
		Block:      []byte(cfg.Search.Block),
		Difficulty: cfg.Search.Difficulty,
		Partition:  partition,
		SearchID:   c.Args.SearchID,
	}
	if err := assignment.Validate(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	channel, err := queue.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer channel.Close()
	result, err := worker.Run(ctx, assignment, channel)
	if err != nil {
		if errors.Is(err, miner.ErrSearchCancelled) {
			slog.Info("search stopped before finishing")
			return nil
		}
		return err
	}
	fmt.Println(result)
	return nil
}

type localCommand struct {
	Threads int `short:"t" long:"threads" description:"number of search goroutines (default from config)"`
	Args    struct {
		Block      string `positional-arg-name:"BLOCK"`
		Difficulty string `positional-arg-name:"DIFFICULTY"`
	} `positional-args:"yes"`
}

func (c *localCommand) Execute(args []string) error {
	cfg := config.GetConfig()
	if err := applySearchArgs(cfg, c.Args.Block, c.Args.Difficulty); err != nil {
		return err
	}
	if c.Threads > 0 {
		cfg.Miner.Threads = c.Threads
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	manager := miner.NewManager(
		cfg.Miner.Threads,
		time.Duration(cfg.Miner.HashRateInterval)*time.Second,
	)
	start := time.Now()
	result, err := manager.Run(ctx, []byte(cfg.Search.Block), cfg.Search.Difficulty)
	if err != nil {
		return err
	}
	if !result.Found() {
		fmt.Printf("No nonce found after %s\n", time.Since(start))
		return nil
	}
	fmt.Printf(
		"Found nonce %d with %d leading zeros after %s (%d hashes)\n",
		result.Nonce,
		result.ZeroBits,
		time.Since(start),
		manager.HashCount(),
	)
	return nil
}

type masterCommand struct {
	Args struct {
		Block      string `positional-arg-name:"BLOCK"`
		Difficulty string `positional-arg-name:"DIFFICULTY"`
		Workers    string `positional-arg-name:"N"`
	} `positional-args:"yes"`
}

func (c *masterCommand) Execute(args []string) error {
	cfg := config.GetConfig()
	if err := applySearchArgs(cfg, c.Args.Block, c.Args.Difficulty); err != nil {
		return err
	}
	if c.Args.Workers != "" {
		workers, err := strconv.Atoi(c.Args.Workers)
		if err != nil {
			return fmt.Errorf("invalid worker count %q: %w", c.Args.Workers, err)
		}
		cfg.Coordinator.WorkerCount = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return runCoordinator(ctx, cfg)
}

type autoCommand struct {
	Args struct {
		Block      string `positional-arg-name:"BLOCK"`
		Difficulty string `positional-arg-name:"DIFFICULTY"`
		TimeBudget string `positional-arg-name:"TIME"`
		Confidence string `positional-arg-name:"CONFIDENCE"`
	} `positional-args:"yes"`
}

func (c *autoCommand) Execute(args []string) error {
	cfg := config.GetConfig()
	if err := applySearchArgs(cfg, c.Args.Block, c.Args.Difficulty); err != nil {
		return err
	}
	if c.Args.TimeBudget != "" {
		seconds, err := strconv.ParseFloat(c.Args.TimeBudget, 64)
		if err != nil {
			return fmt.Errorf("invalid time budget %q: %w", c.Args.TimeBudget, err)
		}
		cfg.Estimator.TimeBudget = time.Duration(seconds * float64(time.Second))
	}
	if c.Args.Confidence != "" {
		confidence, err := strconv.ParseFloat(c.Args.Confidence, 64)
		if err != nil {
			return fmt.Errorf("invalid confidence %q: %w", c.Args.Confidence, err)
		}
		cfg.Estimator.Confidence = confidence
	}
	model := estimator.ModelFromConfig(cfg.Estimator)
	estimate, err := model.Estimate(
		cfg.Search.Difficulty,
		cfg.Estimator.TimeBudget.Seconds(),
		cfg.Estimator.Confidence,
	)
	if err != nil {
		return fmt.Errorf("cannot meet %s at %.1f%% confidence: %w",
			cfg.Estimator.TimeBudget,
			cfg.Estimator.Confidence,
			err,
		)
	}
	slog.Info(
		fmt.Sprintf("estimate: %s", estimate),
	)
	cfg.Coordinator.WorkerCount = estimate.Workers
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	return runCoordinator(ctx, cfg)
}

func runCoordinator(ctx context.Context, cfg *config.Config) error {
	channel, err := queue.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer channel.Close()
	prov, err := provisioner.Open(ctx, cfg, channel)
	if err != nil {
		return err
	}
	coord := coordinator.New(cfg, prov, channel)
	result, err := coord.Search(
		ctx,
		[]byte(cfg.Search.Block),
		cfg.Search.Difficulty,
		cfg.Coordinator.WorkerCount,
	)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

type queueServeCommand struct {
	Listen string `short:"l" long:"listen" description:"address to listen on (default from config)"`
}

func (c *queueServeCommand) Execute(args []string) error {
	cfg := config.GetConfig()
	if c.Listen != "" {
		cfg.Queue.ListenAddress = c.Listen
	}
	store := storage.GetStorage()
	if err := store.Load(cfg.Queue.Directory); err != nil {
		return fmt.Errorf("failed to open queue storage: %w", err)
	}
	defer store.Close()
	backend := queue.NewBadger(store, cfg.Queue.Name, cfg.Queue.VisibilityTimeout)
	defer backend.Close()
	lis, err := net.Listen("tcp", cfg.Queue.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Queue.ListenAddress, err)
	}
	server := queue.NewServer(backend)
	ctx, stop := signalContext()
	defer stop()
	go func() {
		<-ctx.Done()
		server.Stop()
	}()
	slog.Info(
		fmt.Sprintf("serving queue %q on %s", cfg.Queue.Name, lis.Addr()),
	)
	return server.Serve(lis)
}

type timingCommand struct {
	Args struct {
		Files []string `positional-arg-name:"LOGFILE"`
	} `positional-args:"yes"`
}

func (c *timingCommand) Execute(args []string) error {
	var samples []timing.Sample
	if len(c.Args.Files) == 0 {
		parsed, err := timing.Parse(os.Stdin)
		if err != nil {
			return err
		}
		samples = parsed
	}
	for _, name := range c.Args.Files {
		parsed, err := parseFile(name)
		if err != nil {
			return err
		}
		samples = append(samples, parsed...)
	}
	return timing.WriteCSV(os.Stdout, timing.Aggregate(samples))
}

func parseFile(name string) ([]timing.Sample, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return timing.Parse(f)
}
