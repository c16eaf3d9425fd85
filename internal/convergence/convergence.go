// Package convergence selects and runs post-boot software convergence on a
// machine, and removes the machine's registrations from the configuration
// server when it is destroyed.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/transport"
)

// ErrMalformedServerURL is returned by Cleanup when the configuration server
// URL cannot be parsed.
var ErrMalformedServerURL = errors.New("malformed configuration server URL")

// Kind identifies a convergence strategy.
type Kind int

const (
	KindNoConverge Kind = iota
	KindInstallCached
	KindInstallMSI
)

func (k Kind) String() string {
	switch k {
	case KindNoConverge:
		return "no_converge"
	case KindInstallCached:
		return "install_cached"
	case KindInstallMSI:
		return "install_msi"
	default:
		return "unknown"
	}
}

// Strategy converges a machine and cleans up after it.
type Strategy interface {
	Kind() Kind
	Converge(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, t transport.Transport) error
	Cleanup(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec) error
}

// Option configures a strategy.
type Option func(*base)

// WithHTTPClient sets the client used to talk to the configuration server.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		b.client = c
	}
}

// New returns the strategy for kind.
func New(kind Kind, opts *v1alpha1.ConvergenceOptions, options ...Option) Strategy {
	b := newBase(opts, options...)
	switch kind {
	case KindInstallCached:
		return &InstallCached{base: b}
	case KindInstallMSI:
		return &InstallMSI{base: b}
	default:
		return &NoConverge{base: b}
	}
}

type base struct {
	opts   v1alpha1.ConvergenceOptions
	client *http.Client
}

func newBase(opts *v1alpha1.ConvergenceOptions, options ...Option) base {
	b := base{client: &http.Client{Timeout: 30 * time.Second}}
	if opts != nil {
		b.opts = *opts
	}
	for _, o := range options {
		o(&b)
	}
	return b
}

// Cleanup deletes the node and client registered under the machine name.
// Registrations that are already gone count as deleted. Nothing is done when
// no server is configured.
func (b *base) Cleanup(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec) error {
	if b.opts.ServerURL == "" {
		return nil
	}

	server, err := url.Parse(b.opts.ServerURL)
	if err != nil || server.Scheme == "" || server.Host == "" {
		return fmt.Errorf("%w: %q", ErrMalformedServerURL, b.opts.ServerURL)
	}

	for _, kind := range []string{"nodes", "clients"} {
		endpoint := server.JoinPath(kind, spec.Name)
		desc := fmt.Sprintf("delete %s %s at %s", kind[:len(kind)-1], spec.Name, server.Host)
		if err := h.PerformAction(desc, func() error {
			return b.delete(ctx, endpoint.String())
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) delete(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode/100 == 2 {
		return nil
	}
	return fmt.Errorf("DELETE %s: unexpected status %s", endpoint, resp.Status)
}

// NoConverge leaves the machine as booted.
type NoConverge struct {
	base
}

// Kind implements Strategy.
func (s *NoConverge) Kind() Kind { return KindNoConverge }

// Converge does nothing.
func (s *NoConverge) Converge(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, t transport.Transport) error {
	return nil
}
