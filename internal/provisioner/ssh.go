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

package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/blinklabs-io/goldnonce/internal/config"
)

const (
	defaultSSHPort = "22"
	sshDialTimeout = 15 * time.Second
)

// SSH runs workers on a fixed pool of hosts, assigning them round robin. Each
// worker is a remote shell reading the startup script on stdin
type SSH struct {
	hosts        []string
	clientConfig *ssh.ClientConfig
	next         atomic.Uint64
	dial         func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error)
}

// sshClient is the part of *ssh.Client we use
type sshClient interface {
	NewSession() (*ssh.Session, error)
	Close() error
}

type sshInstance struct {
	id       string
	host     string
	searchID string
	client   sshClient
	session  *ssh.Session
}

func NewSSHFromConfig(cfg config.ProvisionerConfig) (*SSH, error) {
	keyData, err := os.ReadFile(cfg.SSHKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey() // #nosec G106
	if cfg.SSHKnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.SSHKnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	} else {
		slog.Warn("SSH host keys will not be verified")
	}
	clientConfig := &ssh.ClientConfig{
		User:            cfg.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         sshDialTimeout,
	}
	return NewSSH(cfg.SSHHosts, clientConfig)
}

func NewSSH(hosts []string, clientConfig *ssh.ClientConfig) (*SSH, error) {
	if len(hosts) == 0 {
		return nil, errors.New("no SSH hosts configured")
	}
	ret := &SSH{
		clientConfig: clientConfig,
		dial:         dialSSH,
	}
	for _, host := range hosts {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, defaultSSHPort)
		}
		ret.hosts = append(ret.hosts, host)
	}
	return ret, nil
}

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (sshClient, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// nextHost picks hosts round robin
func (s *SSH) nextHost() (string, uint64) {
	n := s.next.Add(1) - 1
	return s.hosts[n%uint64(len(s.hosts))], n
}

func (s *SSH) Provision(ctx context.Context, spec LaunchSpec) (Instance, error) {
	host, n := s.nextHost()
	client, err := s.dial(ctx, host, s.clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open session on %s: %w", host, err)
	}
	session.Stdin = strings.NewReader(spec.StartupScript)
	if err := session.Start("bash -s"); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start worker on %s: %w", host, err)
	}
	return &sshInstance{
		id:       fmt.Sprintf("%s#%d", host, n),
		host:     host,
		searchID: spec.Assignment.SearchID,
		client:   client,
		session:  session,
	}, nil
}

// Terminate signals the remote worker and then kills anything left over from
// the same search on that host, since not every server delivers signals
func (s *SSH) Terminate(ctx context.Context, instance Instance) error {
	inst, ok := instance.(*sshInstance)
	if !ok {
		return fmt.Errorf("instance %s was not provisioned over SSH", instance.ID())
	}
	defer inst.client.Close()
	_ = inst.session.Signal(ssh.SIGTERM)
	_ = inst.session.Close()
	pattern, ok := pkillPattern(inst.searchID)
	if !ok {
		return nil
	}
	cleanup, err := inst.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open cleanup session on %s: %w", inst.host, err)
	}
	defer cleanup.Close()
	// pkill exits 1 when nothing matched, which is fine. The bracket keeps the
	// pattern from matching the shell running pkill
	cmd := "pkill -TERM -f -- " + shellescape.Quote(pattern) + " || true"
	if err := cleanup.Run(cmd); err != nil {
		return fmt.Errorf("failed to stop worker on %s: %w", inst.host, err)
	}
	return nil
}

// pkillPattern returns a pattern matching the worker command line for
// searchID. An empty ID yields false, since it would match every process
func pkillPattern(searchID string) (string, bool) {
	if searchID == "" {
		return "", false
	}
	return "[" + searchID[:1] + "]" + searchID[1:], true
}

func (i *sshInstance) ID() string {
	return i.id
}

// WaitUntilRunning returns immediately: the remote command has already started
// by the time Provision returns
func (i *sshInstance) WaitUntilRunning(ctx context.Context) error {
	return ctx.Err()
}
