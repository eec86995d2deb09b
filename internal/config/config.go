// Copyright 2023 Blink Labs Software
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

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	// MaxDifficulty is the digest size in bits
	MaxDifficulty = 256
)

type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Search      SearchConfig      `yaml:"search"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Estimator   EstimatorConfig   `yaml:"estimator"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Queue       QueueConfig       `yaml:"queue"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Miner       MinerConfig       `yaml:"miner"`
	AWS         AWSConfig         `yaml:"aws"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug" envconfig:"LOGGING_DEBUG"`
}

type SearchConfig struct {
	Block      string `yaml:"block"      envconfig:"SEARCH_BLOCK"`
	Difficulty int    `yaml:"difficulty" envconfig:"SEARCH_DIFFICULTY"`
}

type CoordinatorConfig struct {
	WorkerCount     int           `yaml:"workers"         envconfig:"COORDINATOR_WORKERS"`
	PollWait        time.Duration `yaml:"pollWait"        envconfig:"COORDINATOR_POLL_WAIT"`
	Timeout         time.Duration `yaml:"timeout"         envconfig:"COORDINATOR_TIMEOUT"`
	TeardownTimeout time.Duration `yaml:"teardownTimeout" envconfig:"COORDINATOR_TEARDOWN_TIMEOUT"`
	// ForeignMessages selects what happens to messages that belong to another search:
	// "discard" deletes them, "leave" keeps them on the channel
	ForeignMessages string `yaml:"foreignMessages" envconfig:"COORDINATOR_FOREIGN_MESSAGES"`
}

type EstimatorConfig struct {
	TimeBudget          time.Duration `yaml:"timeBudget"          envconfig:"ESTIMATOR_TIME_BUDGET"`
	Confidence          float64       `yaml:"confidence"          envconfig:"ESTIMATOR_CONFIDENCE"`
	StartupSeconds      float64       `yaml:"startupSeconds"      envconfig:"ESTIMATOR_STARTUP_SECONDS"`
	CoverageCoefficient float64       `yaml:"coverageCoefficient" envconfig:"ESTIMATOR_COVERAGE_COEFFICIENT"`
	RootDivisor         float64       `yaml:"rootDivisor"         envconfig:"ESTIMATOR_ROOT_DIVISOR"`
}

type ProvisionerConfig struct {
	Backend      string   `yaml:"backend"      envconfig:"PROVISIONER_BACKEND"`
	Image        string   `yaml:"image"        envconfig:"PROVISIONER_IMAGE"`
	MachineClass string   `yaml:"machineClass" envconfig:"PROVISIONER_MACHINE_CLASS"`
	IAMProfile   string   `yaml:"iamProfile"   envconfig:"PROVISIONER_IAM_PROFILE"`
	WorkerBinary string   `yaml:"workerBinary" envconfig:"PROVISIONER_WORKER_BINARY"`
	LogPath      string   `yaml:"logPath"      envconfig:"PROVISIONER_LOG_PATH"`
	SSHHosts     []string `yaml:"sshHosts"     envconfig:"PROVISIONER_SSH_HOSTS"`
	SSHUser      string   `yaml:"sshUser"      envconfig:"PROVISIONER_SSH_USER"`
	SSHKeyFile   string   `yaml:"sshKeyFile"   envconfig:"PROVISIONER_SSH_KEY_FILE"`
	// SSHKnownHosts is optional; when empty host keys are not verified
	SSHKnownHosts string `yaml:"sshKnownHosts" envconfig:"PROVISIONER_SSH_KNOWN_HOSTS"`
}

type QueueConfig struct {
	Backend           string        `yaml:"backend"           envconfig:"QUEUE_BACKEND"`
	Name              string        `yaml:"name"              envconfig:"QUEUE_NAME"`
	Directory         string        `yaml:"dir"               envconfig:"QUEUE_DIR"`
	Address           string        `yaml:"address"           envconfig:"QUEUE_ADDRESS"`
	ListenAddress     string        `yaml:"listenAddress"     envconfig:"QUEUE_LISTEN_ADDRESS"`
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout" envconfig:"QUEUE_VISIBILITY_TIMEOUT"`
}

type AWSConfig struct {
	Region string `yaml:"region" envconfig:"AWS_REGION"`
}

type MetricsConfig struct {
	ListenAddress string `yaml:"address" envconfig:"METRICS_LISTEN_ADDRESS"`
	ListenPort    uint   `yaml:"port"    envconfig:"METRICS_LISTEN_PORT"`
}

type MinerConfig struct {
	Threads          int `yaml:"threads"          envconfig:"MINER_THREADS"`
	HashRateInterval int `yaml:"hashRateInterval" envconfig:"HASH_RATE_INTERVAL"`
}

// Singleton config instance with default values
var globalConfig = defaultConfig()

func defaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			Block:      "COMSM0010cloud",
			Difficulty: 20,
		},
		Coordinator: CoordinatorConfig{
			WorkerCount:     1,
			PollWait:        20 * time.Second,
			TeardownTimeout: 2 * time.Minute,
			ForeignMessages: ForeignMessagesDiscard,
		},
		// Calibration constants were fitted against t2.micro startup and hashing times
		Estimator: EstimatorConfig{
			TimeBudget:          600 * time.Second,
			Confidence:          90,
			StartupSeconds:      30,
			CoverageCoefficient: 8.0 / 165000.0,
			RootDivisor:         4,
		},
		Provisioner: ProvisionerConfig{
			Backend:      ProvisionerEC2,
			Image:        "ami-0ad788d4ae566815b",
			MachineClass: "t2.micro",
			WorkerBinary: "goldnonce",
			LogPath:      "~/goldnonce.log",
		},
		Queue: QueueConfig{
			Backend:           QueueSQS,
			Name:              "NonceOutput",
			Directory:         "./.goldnonce",
			ListenAddress:     ":7420",
			VisibilityTimeout: 30 * time.Second,
		},
		AWS: AWSConfig{
			Region: "us-east-2",
		},
		Metrics: MetricsConfig{
			ListenAddress: "",
			ListenPort:    0,
		},
		Miner: MinerConfig{
			Threads:          1,
			HashRateInterval: 60,
		},
	}
}

const (
	ForeignMessagesDiscard = "discard"
	ForeignMessagesLeave   = "leave"

	ProvisionerEC2    = "ec2"
	ProvisionerSSH    = "ssh"
	ProvisionerExec   = "exec"
	ProvisionerInproc = "inproc"

	QueueSQS    = "sqs"
	QueueBadger = "badger"
	QueueGRPC   = "grpc"
	QueueMemory = "memory"
)

func Load(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Load config values from environment variables
	// We use "dummy" as the app name here to (mostly) prevent picking up env
	// vars that we hadn't explicitly specified in annotations above
	err := envconfig.Process("dummy", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}

// Validate checks values that the rest of the program relies on. It is
// called by Load and again by commands after applying flag overrides
func (c *Config) Validate() error {
	if c.Search.Difficulty < 0 || c.Search.Difficulty > MaxDifficulty {
		return fmt.Errorf(
			"difficulty must be between 0 and %d, got %d",
			MaxDifficulty,
			c.Search.Difficulty,
		)
	}
	if c.Coordinator.WorkerCount < 1 {
		return fmt.Errorf(
			"worker count must be at least 1, got %d",
			c.Coordinator.WorkerCount,
		)
	}
	if c.Coordinator.PollWait <= 0 {
		return fmt.Errorf("poll wait must be positive, got %s", c.Coordinator.PollWait)
	}
	switch c.Coordinator.ForeignMessages {
	case ForeignMessagesDiscard, ForeignMessagesLeave:
	default:
		return fmt.Errorf(
			"unknown foreign message policy: %s",
			c.Coordinator.ForeignMessages,
		)
	}
	switch c.Provisioner.Backend {
	case ProvisionerEC2, ProvisionerSSH, ProvisionerExec, ProvisionerInproc:
	default:
		return fmt.Errorf("unknown provisioner backend: %s", c.Provisioner.Backend)
	}
	if c.Provisioner.Backend == ProvisionerSSH && len(c.Provisioner.SSHHosts) == 0 {
		return fmt.Errorf("ssh provisioner requires at least one host")
	}
	switch c.Queue.Backend {
	case QueueSQS, QueueBadger, QueueGRPC, QueueMemory:
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Queue.Backend)
	}
	if c.Queue.Backend == QueueGRPC && c.Queue.Address == "" {
		return fmt.Errorf("grpc queue requires an address")
	}
	// Workers outside this process need a channel they can reach
	if c.Provisioner.Backend != ProvisionerInproc &&
		c.Queue.Backend != QueueSQS &&
		c.Queue.Backend != QueueGRPC {
		return fmt.Errorf(
			"%s provisioner needs a shared queue (%s or %s), got %s",
			c.Provisioner.Backend,
			QueueSQS,
			QueueGRPC,
			c.Queue.Backend,
		)
	}
	if c.Miner.Threads < 1 {
		return fmt.Errorf("miner threads must be at least 1, got %d", c.Miner.Threads)
	}
	if c.Miner.HashRateInterval < 1 {
		return fmt.Errorf(
			"hash rate interval must be at least 1, got %d",
			c.Miner.HashRateInterval,
		)
	}
	return nil
}
