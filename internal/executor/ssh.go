package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	atherrors "athena/internal/errors"
)

// Credentials authenticate one SSH target. Password and key are tried in
// that order when both are set.
type Credentials struct {
	User     string
	Password string
	KeyPath  string
}

// CredentialProvider resolves credentials per hostname.
type CredentialProvider interface {
	CredentialsFor(hostname string) (Credentials, bool)
}

// StaticCredentials is a fixed hostname to credentials map with an
// optional fallback entry under "*".
type StaticCredentials map[string]Credentials

func (s StaticCredentials) CredentialsFor(hostname string) (Credentials, bool) {
	if c, ok := s[hostname]; ok {
		return c, true
	}
	c, ok := s["*"]
	return c, ok
}

const sshDialTimeout = 10 * time.Second

// sshRunnerFor resolves the target against the inventory and prepares a
// runner that opens its own connection when run.
func (e *Executor) sshRunnerFor(target string) (runner, error) {
	address := target
	port := 22
	if e.store != nil {
		if host, err := e.store.GetHostByName(context.Background(), target); err == nil {
			if host.IP != "" {
				address = host.IP
			} else {
				address = host.Hostname
			}
			if host.SSHPort > 0 {
				port = host.SSHPort
			}
		}
	}

	creds := Credentials{}
	if e.creds != nil {
		creds, _ = e.creds.CredentialsFor(target)
	}
	if creds.User == "" {
		creds.User = "root"
	}

	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	if len(auth) == 0 {
		return nil, &atherrors.ExecutorError{
			Target:   target,
			ExitCode: exitInternal,
			Reason:   "no credentials available for remote target",
		}
	}

	return &sshRunner{
		target:  target,
		address: net.JoinHostPort(address, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            creds.User,
			Auth:            auth,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         sshDialTimeout,
		},
	}, nil
}

func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if creds.KeyPath != "" {
		key, err := os.ReadFile(creds.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods, nil
}

// sshRunner owns one connection per run call.
type sshRunner struct {
	target  string
	address string
	config  *ssh.ClientConfig
}

func (r *sshRunner) run(ctx context.Context, command string) (int, string, string, error) {
	client, err := ssh.Dial("tcp", r.address, r.config)
	if err != nil {
		return exitInternal, "", "", &atherrors.ExecutorError{
			Target: r.target, Command: command, ExitCode: exitInternal,
			Reason: "ssh connect failed", Err: err,
		}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return exitInternal, "", "", &atherrors.ExecutorError{
			Target: r.target, Command: command, ExitCode: exitInternal,
			Reason: "ssh session failed", Err: err,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Run blocks without ctx support; closing the client unblocks it when
	// the deadline fires.
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return exitInternal, stdout.String(), stderr.String(), ctx.Err()
	case err = <-done:
	}

	if err == nil {
		return 0, stdout.String(), stderr.String(), nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), stdout.String(), stderr.String(), nil
	}
	return exitInternal, stdout.String(), stderr.String(), &atherrors.ExecutorError{
		Target: r.target, Command: command, ExitCode: exitInternal,
		Reason: "ssh exec failed", Err: err,
	}
}
