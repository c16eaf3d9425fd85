package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// SSH is a Transport over golang.org/x/crypto/ssh. Every call opens its own
// connection; nothing is kept open between calls.
type SSH struct {
	host    string
	port    int
	config  *ssh.ClientConfig
	extra   Extra
	cfg     Config
	gateway *gatewayTarget
}

type gatewayTarget struct {
	addr string
	user string
}

// NewSSH builds an SSH transport to host. Authentication uses, in order,
// KeyFile, PrivateKey and Password; the methods present are all offered.
func NewSSH(host string, opts *v1alpha1.SSHOptions, extra Extra, cfg Config) (*SSH, error) {
	if host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if opts == nil {
		return nil, fmt.Errorf("ssh options are required")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("ssh port is required")
	}

	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		cfg.ConnectTimeout = opts.Timeout
	}

	t := &SSH{
		host:  host,
		port:  opts.Port,
		extra: extra,
		cfg:   cfg,
		config: &ssh.ClientConfig{
			User: opts.User,
			Auth: auth,
			// Clones boot with freshly generated host keys.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         cfg.timeout(),
		},
	}

	if extra.Gateway != "" {
		gw, err := parseGateway(extra.Gateway, opts.User)
		if err != nil {
			return nil, err
		}
		t.gateway = gw
	}
	return t, nil
}

func authMethods(opts *v1alpha1.SSHOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	switch {
	case opts.KeyFile != "":
		key, err := os.ReadFile(filepath.Clean(opts.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key file %s: %w", opts.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case opts.PrivateKey != "":
		signer, err := ssh.ParsePrivateKey([]byte(opts.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh credentials: set key_file, private_key or password")
	}
	return methods, nil
}

// parseGateway accepts "[user@]host[:port]".
func parseGateway(spec, defaultUser string) (*gatewayTarget, error) {
	user := defaultUser
	hostPort := spec
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		user = spec[:at]
		hostPort = spec[at+1:]
	}
	if hostPort == "" {
		return nil, fmt.Errorf("invalid ssh gateway %q", spec)
	}
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		hostPort = net.JoinHostPort(hostPort, "22")
	}
	return &gatewayTarget{addr: hostPort, user: user}, nil
}

// Address returns host:port.
func (t *SSH) Address() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// clientConn is an SSH connection that also owns the gateway connection it was
// tunnelled through, if any.
type clientConn struct {
	*ssh.Client
	gw *ssh.Client
}

func (c *clientConn) Close() error {
	err := c.Client.Close()
	if c.gw != nil {
		err = errors.Join(err, c.gw.Close())
	}
	return err
}

// dial connects and authenticates within one connect timeout. The TCP dial,
// every handshake and the gateway hop all share that budget.
func (t *SSH) dial(ctx context.Context) (*clientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.timeout())
	defer cancel()

	var dialer net.Dialer
	if t.gateway == nil {
		conn, err := dialer.DialContext(ctx, "tcp", t.Address())
		if err != nil {
			return nil, err
		}
		c, err := handshake(ctx, conn, t.Address(), t.config)
		if err != nil {
			return nil, err
		}
		return &clientConn{Client: c}, nil
	}

	gwConfig := *t.config
	gwConfig.User = t.gateway.user
	conn, err := dialer.DialContext(ctx, "tcp", t.gateway.addr)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", t.gateway.addr, err)
	}
	gw, err := handshake(ctx, conn, t.gateway.addr, &gwConfig)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", t.gateway.addr, err)
	}

	// gw.Dial and reads on the tunnelled channel ignore deadlines; closing
	// the gateway connection is what unblocks them.
	stop := context.AfterFunc(ctx, func() {
		_ = gw.Close()
	})
	var c *ssh.Client
	inner, err := gw.Dial("tcp", t.Address())
	if err == nil {
		c, err = handshake(ctx, inner, t.Address(), t.config)
	}
	if !stop() {
		if c != nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("ssh %s via gateway %s: %w", t.Address(), t.gateway.addr, ctx.Err())
	}
	if err != nil {
		_ = gw.Close()
		return nil, err
	}
	return &clientConn{Client: c, gw: gw}, nil
}

// handshake runs the SSH handshake over conn. conn is closed if ctx ends
// before the handshake does.
func handshake(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Available connects and runs "true". The connection and the command are
// bounded together by the connect timeout.
func (t *SSH) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.timeout())
	defer cancel()
	_, err := t.run(ctx, "true")
	return err == nil
}

// Execute runs cmd through sudo when the location asks for it.
func (t *SSH) Execute(ctx context.Context, cmd string) (string, error) {
	if t.extra.Sudo && t.config.User != "root" {
		cmd = "sudo -n " + cmd
	}
	out, err := t.run(ctx, cmd)
	if err != nil {
		return out, fmt.Errorf("ssh %s: %q failed: %w", t.Address(), cmd, err)
	}
	return out, nil
}

func (t *SSH) run(ctx context.Context, cmd string) (string, error) {
	client, err := t.dial(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = client.Close()
	}()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = session.Close()
	}()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return string(res.out), res.err
	}
}

// Upload copies local to remote over sftp.
func (t *SSH) Upload(ctx context.Context, local, remote string) error {
	client, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("ssh %s: %w", t.Address(), err)
	}
	defer func() {
		_ = client.Close()
	}()

	sc, err := sftp.NewClient(client.Client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer func() {
		_ = sc.Close()
	}()

	src, err := os.Open(filepath.Clean(local))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := sc.Create(remote)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remote, err)
	}
	defer func() {
		_ = dst.Close()
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}
	return nil
}
