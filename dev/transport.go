package dev

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/crypto/ssh"
)

// DeviceAccess is the device-access collaborator: it retrieves and applies
// configuration text. Both calls are slow and fallible, the core never
// assumes reachability.
type DeviceAccess interface {
	Fetch(ctx context.Context, d *Device) ([]byte, error)
	Apply(ctx context.Context, d *Device, config []byte) error
}

const (
	dialAttempts    = 3
	dialBackoff     = 500 * time.Millisecond
	dialMaxBackoff  = 5 * time.Second
	defaultSSHPort  = "22"
	applyDrainLimit = 100000
)

// SSHAccess implements DeviceAccess over SSH.
type SSHAccess struct {
	logger      hasPrintf
	dialTimeout time.Duration
}

// NewSSHAccess creates the SSH device-access collaborator.
func NewSSHAccess(logger hasPrintf, dialTimeout time.Duration) *SSHAccess {
	return &SSHAccess{logger: logger, dialTimeout: dialTimeout}
}

func forceHostPort(hostPort, defaultPort string) string {
	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 {
		return hostPort
	}
	return fmt.Sprintf("%s:%s", hostPort, defaultPort)
}

// dial opens the SSH client connection, retrying transient failures with
// bounded backoff.
func (a *SSHAccess) dial(ctx context.Context, d *Device) (*ssh.Client, error) {

	hp := forceHostPort(d.HostPort, defaultSSHPort)

	config := &ssh.ClientConfig{
		User: d.LoginUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.LoginPassword),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         a.dialTimeout,
	}

	var client *ssh.Client

	err := retry.Do(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry.Unrecoverable(ctxErr)
		}

		dialer := net.Dialer{Timeout: a.dialTimeout}
		conn, dialErr := dialer.DialContext(ctx, "tcp", hp)
		if dialErr != nil {
			return dialErr
		}

		c, chans, reqs, connErr := ssh.NewClientConn(conn, hp, config)
		if connErr != nil {
			conn.Close()
			return connErr
		}

		client = ssh.NewClient(c, chans, reqs)
		return nil
	}, retry.Attempts(dialAttempts), retry.Delay(dialBackoff), retry.MaxDelay(dialMaxBackoff))

	if err != nil {
		return nil, fmt.Errorf("dial: ssh '%s' dev '%s': %v", hp, d.ID, err)
	}

	return client, nil
}

// Fetch retrieves the device's running configuration by executing the
// model's fetch command.
func (a *SSHAccess) Fetch(ctx context.Context, d *Device) ([]byte, error) {

	client, dialErr := a.dial(ctx, d)
	if dialErr != nil {
		return nil, fmt.Errorf("Fetch: %v", dialErr)
	}
	defer client.Close()

	session, sessErr := client.NewSession()
	if sessErr != nil {
		return nil, fmt.Errorf("Fetch: session: dev '%s': %v", d.ID, sessErr)
	}
	defer session.Close()

	command := d.Attr.FetchCommand
	if d.Debug {
		a.logger.Printf("Fetch: dev '%s' command: [%s]", d.ID, command)
	}

	type reply struct {
		out []byte
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := session.Output(command)
		done <- reply{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("Fetch: dev '%s' command '%s': %v", d.ID, command, r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		session.Close()
		return nil, fmt.Errorf("Fetch: dev '%s': %v", d.ID, ctx.Err())
	}
}

// Apply feeds configuration text into the device through an interactive
// shell, wrapped in the model's prologue and epilogue commands.
func (a *SSHAccess) Apply(ctx context.Context, d *Device, config []byte) error {

	client, dialErr := a.dial(ctx, d)
	if dialErr != nil {
		return fmt.Errorf("Apply: %v", dialErr)
	}
	defer client.Close()

	session, sessErr := client.NewSession()
	if sessErr != nil {
		return fmt.Errorf("Apply: session: dev '%s': %v", d.ID, sessErr)
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO: 0, // disable echoing
	}
	if ptyErr := session.RequestPty("vt100", 40, 80, modes); ptyErr != nil {
		return fmt.Errorf("Apply: pty: dev '%s': %v", d.ID, ptyErr)
	}

	script := &bytes.Buffer{}
	if d.Attr.ApplyPrologue != "" {
		script.WriteString(d.Attr.ApplyPrologue + "\n")
	}
	script.Write(config)
	if !bytes.HasSuffix(config, []byte("\n")) {
		script.WriteByte('\n')
	}
	if d.Attr.ApplyEpilogue != "" {
		script.WriteString(d.Attr.ApplyEpilogue + "\n")
	}
	script.WriteString("exit\n")

	var out bytes.Buffer
	session.Stdin = script
	session.Stdout = &out
	session.Stderr = &out

	if shellErr := session.Shell(); shellErr != nil {
		return fmt.Errorf("Apply: shell: dev '%s': %v", d.ID, shellErr)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case waitErr := <-done:
		if waitErr != nil {
			drain := out.Bytes()
			if len(drain) > applyDrainLimit {
				drain = drain[:applyDrainLimit]
			}
			return fmt.Errorf("Apply: dev '%s': %v out=[%s]", d.ID, waitErr, drain)
		}
	case <-ctx.Done():
		session.Close()
		return fmt.Errorf("Apply: dev '%s': %v", d.ID, ctx.Err())
	}

	if d.Debug {
		a.logger.Printf("Apply: dev '%s' shell output: [%s]", d.ID, out.Bytes())
	}

	return nil
}
