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

// Package estimator picks a worker count that should find a nonce within a
// time budget at a given confidence.
//
// Each trial succeeds with probability 2^-D, so covering x trials gives
// 1-(1-2^-D)^x chance of at least one success. Search time for n workers was
// fitted as
//
//	T = S + (R/2)n + C*x/(2Rn)
//
// with S = StartupSeconds, R = RootDivisor and C = CoverageCoefficient. With
// the defaults that is 30s fixed cost, 2s extra start-up per worker and about
// 165000 hashes per second per worker. Solving for n gives a quadratic whose
// roots bound the usable worker counts. The fit is a heuristic and its
// constants only hold for the environment they were measured in
package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/blinklabs-io/goldnonce/internal/config"
	"github.com/blinklabs-io/goldnonce/internal/miner"
)

var (
	ErrInfeasible        = errors.New("no worker count satisfies the time budget")
	ErrInvalidConfidence = errors.New("confidence must be greater than 0 and at most 100")
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

// Model holds the calibration constants
type Model struct {
	StartupSeconds      float64
	CoverageCoefficient float64
	RootDivisor         float64
	MaxTrials           float64
}

// Estimate is the outcome of a successful estimation
type Estimate struct {
	Trials       float64
	Discriminant float64
	Lower        float64
	Upper        float64
	Workers      int
}

func (e Estimate) String() string {
	return fmt.Sprintf(
		"%f < n < %f, chosen n = %d (%.0f trials)",
		e.Lower,
		e.Upper,
		e.Workers,
		e.Trials,
	)
}

func DefaultModel() Model {
	return Model{
		StartupSeconds:      30,
		CoverageCoefficient: 8.0 / 165000.0,
		RootDivisor:         4,
		MaxTrials:           float64(miner.NonceSpace),
	}
}

// ModelFromConfig returns the default model with any configured constants
// applied
func ModelFromConfig(cfg config.EstimatorConfig) Model {
	ret := DefaultModel()
	if cfg.StartupSeconds > 0 {
		ret.StartupSeconds = cfg.StartupSeconds
	}
	if cfg.CoverageCoefficient > 0 {
		ret.CoverageCoefficient = cfg.CoverageCoefficient
	}
	if cfg.RootDivisor > 0 {
		ret.RootDivisor = cfg.RootDivisor
	}
	return ret
}

// RequiredTrials returns how many trials give at least the given percent
// chance of a success at difficulty, capped at MaxTrials
func (m Model) RequiredTrials(difficulty int, confidence float64) (float64, error) {
	if math.IsNaN(confidence) || confidence <= 0 || confidence > 100 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}
	if difficulty < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDifficulty, difficulty)
	}
	if confidence == 100 {
		return m.MaxTrials, nil
	}
	// Every hash has at least zero leading zero bits
	if difficulty == 0 {
		return 1, nil
	}
	// log(1 - 2^-D), accurate even when 2^-D is tiny
	logMiss := math.Log1p(-math.Ldexp(1, -difficulty))
	if logMiss == 0 {
		return m.MaxTrials, nil
	}
	x := math.Log1p(-confidence/100) / logMiss
	return math.Min(m.MaxTrials, x), nil
}

// Estimate chooses the smallest worker count whose predicted search time fits
// within timeBudget seconds
func (m Model) Estimate(difficulty int, timeBudget float64, confidence float64) (Estimate, error) {
	x, err := m.RequiredTrials(difficulty, confidence)
	if err != nil {
		return Estimate{}, err
	}
	ret := Estimate{Trials: x}
	slack := timeBudget - m.StartupSeconds
	ret.Discriminant = slack*slack - m.CoverageCoefficient*x
	if ret.Discriminant < 0 {
		return ret, fmt.Errorf("%w: discriminant %f", ErrInfeasible, ret.Discriminant)
	}
	root := math.Sqrt(ret.Discriminant)
	ret.Lower = (slack - root) / m.RootDivisor
	ret.Upper = (slack + root) / m.RootDivisor
	// At least one worker is always needed
	workers := max(1, math.Ceil(ret.Lower))
	if workers > math.Floor(ret.Upper) {
		return ret, fmt.Errorf("%w: %f < n < %f", ErrInfeasible, ret.Lower, ret.Upper)
	}
	if workers > math.MaxUint32 {
		return ret, fmt.Errorf("%w: %f workers", ErrInfeasible, workers)
	}
	ret.Workers = int(workers)
	return ret, nil
}
