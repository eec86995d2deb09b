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

// Package timing summarizes coordinator logs into per difficulty and worker
// count statistics suitable for plotting
package timing

import (
	"bufio"
	"cmp"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
)

const (
	MessageSearchFinished   = "search finished"
	MessageInstancesRunning = "instances running"
)

type Kind int

const (
	KindSearch Kind = iota
	KindStartup
)

// Sample is one timed event from a coordinator log
type Sample struct {
	Kind       Kind
	Difficulty int
	Workers    int
	Seconds    float64
}

type logLine struct {
	Msg            string   `json:"msg"`
	Difficulty     *int     `json:"difficulty"`
	Workers        *int     `json:"workers"`
	ElapsedSeconds *float64 `json:"elapsed_seconds"`
}

// Parse reads JSON log lines and returns the timing samples found. Lines that
// are not JSON, or lack the needed attributes, are skipped
func Parse(r io.Reader) ([]Sample, error) {
	var ret []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Difficulty == nil || line.Workers == nil || line.ElapsedSeconds == nil {
			continue
		}
		sample := Sample{
			Difficulty: *line.Difficulty,
			Workers:    *line.Workers,
			Seconds:    *line.ElapsedSeconds,
		}
		switch line.Msg {
		case MessageSearchFinished:
			sample.Kind = KindSearch
		case MessageInstancesRunning:
			sample.Kind = KindStartup
		default:
			continue
		}
		ret = append(ret, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return ret, nil
}

// Stats describes a set of durations as a mean with error bars
type Stats struct {
	Count int
	Mean  float64
	// Above is max - mean
	Above float64
	// Below is mean - min
	Below float64
}

func newStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	return Stats{
		Count: len(values),
		Mean:  mean,
		Above: slices.Max(values) - mean,
		Below: mean - slices.Min(values),
	}
}

type Row struct {
	Difficulty int
	Workers    int
	Search     Stats
	Startup    Stats
}

type rowKey struct {
	difficulty int
	workers    int
}

// Aggregate groups samples by difficulty and worker count, ordered by
// difficulty then worker count
func Aggregate(samples []Sample) []Row {
	searchTimes := make(map[rowKey][]float64)
	startupTimes := make(map[rowKey][]float64)
	keys := make(map[rowKey]struct{})
	for _, sample := range samples {
		key := rowKey{difficulty: sample.Difficulty, workers: sample.Workers}
		keys[key] = struct{}{}
		switch sample.Kind {
		case KindSearch:
			searchTimes[key] = append(searchTimes[key], sample.Seconds)
		case KindStartup:
			startupTimes[key] = append(startupTimes[key], sample.Seconds)
		}
	}
	ret := make([]Row, 0, len(keys))
	for key := range keys {
		ret = append(
			ret,
			Row{
				Difficulty: key.difficulty,
				Workers:    key.workers,
				Search:     newStats(searchTimes[key]),
				Startup:    newStats(startupTimes[key]),
			},
		)
	}
	slices.SortFunc(ret, func(a, b Row) int {
		return cmp.Or(
			cmp.Compare(a.Difficulty, b.Difficulty),
			cmp.Compare(a.Workers, b.Workers),
		)
	})
	return ret
}

var csvHeader = []string{
	"D",
	"n",
	"time",
	"timebarup",
	"timebardown",
	"startup",
	"startupbarup",
	"startupbardown",
}

// WriteCSV writes rows with a header. Stats without samples are left empty
func WriteCSV(w io.Writer, rows []Row) error {
	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Difficulty),
			strconv.Itoa(row.Workers),
		}
		record = append(record, statsFields(row.Search)...)
		record = append(record, statsFields(row.Startup)...)
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func statsFields(s Stats) []string {
	if s.Count == 0 {
		return []string{"", "", ""}
	}
	return []string{
		strconv.FormatFloat(s.Mean, 'f', 3, 64),
		strconv.FormatFloat(s.Above, 'f', 3, 64),
		strconv.FormatFloat(s.Below, 'f', 3, 64),
	}
}
