package vm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/platform"
	"github.com/jbweber/anvil/internal/transport"
)

var t0 = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

// fakeClock only moves when After is called or Advance is used, so polls
// complete instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeDomain struct {
	res        *platform.Resource
	datacenter string
	folder     string
	power      platform.PowerState
	family     v1alpha1.GuestFamily

	// guestReadyAt is when the agent starts reporting an address after
	// power on. Zero means immediately.
	guestReadyAt time.Time
	ip           string
}

// fakePlatform is an in-memory Platform keyed by server ID.
type fakePlatform struct {
	clock   *fakeClock
	domains map[string]*fakeDomain
	nextID  int

	// ignoreShutdown leaves domains running after a graceful power off.
	ignoreShutdown bool
	// guestDelay is applied to guestReadyAt on every power on.
	guestDelay time.Duration

	findErr    error
	cloneErr   error
	destroyErr error

	clones       []string
	cloneOpts    []platform.CloneOptions
	powerOns     int
	gracefulOffs int
	hardOffs     int
	destroyed    []string
}

func newFakePlatform(clock *fakeClock) *fakePlatform {
	return &fakePlatform{
		clock:   clock,
		domains: make(map[string]*fakeDomain),
		nextID:  1234,
	}
}

func (p *fakePlatform) addTemplate(datacenter, folder, name string, family v1alpha1.GuestFamily) *fakeDomain {
	id := fmt.Sprintf("tmpl-%s", name)
	d := &fakeDomain{
		res:        &platform.Resource{Name: name, ServerID: id},
		datacenter: datacenter,
		folder:     folder,
		power:      platform.PowerStateOff,
		family:     family,
	}
	p.domains[id] = d
	return d
}

func (p *fakePlatform) addMachine(datacenter, folder, name string, power platform.PowerState) *fakeDomain {
	id := fmt.Sprintf("vm-%d", p.nextID)
	p.nextID++
	d := &fakeDomain{
		res:        &platform.Resource{Name: name, ServerID: id},
		datacenter: datacenter,
		folder:     folder,
		power:      power,
		ip:         "192.0.2.10",
	}
	p.domains[id] = d
	return d
}

func (p *fakePlatform) domain(r *platform.Resource) (*fakeDomain, error) {
	d, ok := p.domains[r.ServerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrNotFound, r.ServerID)
	}
	return d, nil
}

func (p *fakePlatform) FindByInstanceID(ctx context.Context, id string) (*platform.Resource, error) {
	if p.findErr != nil {
		return nil, p.findErr
	}
	d, ok := p.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", platform.ErrNotFound, id)
	}
	return d.res, nil
}

func (p *fakePlatform) FindByPath(ctx context.Context, datacenter, folder, name string) (*platform.Resource, error) {
	var elsewhere *fakeDomain
	for _, d := range p.domains {
		if d.res.Name != name {
			continue
		}
		if d.datacenter == datacenter && d.folder == folder {
			return d.res, nil
		}
		elsewhere = d
	}
	if elsewhere != nil {
		return nil, fmt.Errorf("%w: %s is in /%s/%s", platform.ErrNameInUse, name, elsewhere.datacenter, elsewhere.folder)
	}
	return nil, fmt.Errorf("%w: /%s/%s/%s", platform.ErrNotFound, datacenter, folder, name)
}

func (p *fakePlatform) Clone(ctx context.Context, template *platform.Resource, name string, opts platform.CloneOptions) (*platform.Resource, error) {
	if p.cloneErr != nil {
		return nil, p.cloneErr
	}
	tmpl, err := p.domain(template)
	if err != nil {
		return nil, err
	}
	d := p.addMachine(opts.Datacenter, opts.Folder, name, platform.PowerStateOff)
	d.family = tmpl.family
	p.clones = append(p.clones, name)
	p.cloneOpts = append(p.cloneOpts, opts)
	return d.res, nil
}

func (p *fakePlatform) PowerState(ctx context.Context, r *platform.Resource) (platform.PowerState, error) {
	d, err := p.domain(r)
	if err != nil {
		return platform.PowerStateUnknown, err
	}
	return d.power, nil
}

func (p *fakePlatform) PowerOn(ctx context.Context, r *platform.Resource) error {
	d, err := p.domain(r)
	if err != nil {
		return err
	}
	p.powerOns++
	d.power = platform.PowerStateOn
	if p.guestDelay > 0 {
		d.guestReadyAt = p.clock.Now().Add(p.guestDelay)
	}
	return nil
}

func (p *fakePlatform) PowerOff(ctx context.Context, r *platform.Resource, graceful bool) error {
	d, err := p.domain(r)
	if err != nil {
		return err
	}
	if graceful {
		p.gracefulOffs++
		if p.ignoreShutdown {
			return nil
		}
	} else {
		p.hardOffs++
	}
	d.power = platform.PowerStateOff
	return nil
}

func (p *fakePlatform) Destroy(ctx context.Context, r *platform.Resource) error {
	if p.destroyErr != nil {
		return p.destroyErr
	}
	if _, err := p.domain(r); err != nil {
		return err
	}
	delete(p.domains, r.ServerID)
	p.destroyed = append(p.destroyed, r.ServerID)
	return nil
}

func (p *fakePlatform) GuestProbe(ctx context.Context, r *platform.Resource) (*platform.GuestInfo, error) {
	d, err := p.domain(r)
	if err != nil {
		return nil, err
	}
	info := &platform.GuestInfo{Family: d.family}
	if d.power != platform.PowerStateOn {
		return info, nil
	}
	if p.clock.Now().Before(d.guestReadyAt) {
		return info, nil
	}
	info.ToolsRunning = true
	info.IPAddress = d.ip
	return info, nil
}

// fakeTransport becomes available at availableAt, or never.
type fakeTransport struct {
	clock       *fakeClock
	addr        string
	user        string
	extra       transport.Extra
	availableAt time.Time
	never       bool
	probes      int
}

func (t *fakeTransport) Available(ctx context.Context) bool {
	t.probes++
	if t.never {
		return false
	}
	return !t.clock.Now().Before(t.availableAt)
}

func (t *fakeTransport) Execute(ctx context.Context, cmd string) (string, error) {
	return "", errors.New("not implemented")
}

func (t *fakeTransport) Upload(ctx context.Context, local, remote string) error {
	return errors.New("not implemented")
}

func (t *fakeTransport) Address() string { return t.addr }

// fakeTransports is a TransportFactory that records what it built.
type fakeTransports struct {
	clock       *fakeClock
	availableAt time.Time
	never       bool
	built       []*fakeTransport
}

func (f *fakeTransports) factory(host string, opts *v1alpha1.SSHOptions, extra transport.Extra, cfg transport.Config) (transport.Transport, error) {
	t := &fakeTransport{
		clock:       f.clock,
		addr:        net.JoinHostPort(host, strconv.Itoa(opts.Port)),
		user:        opts.User,
		extra:       extra,
		availableAt: f.availableAt,
		never:       f.never,
	}
	f.built = append(f.built, t)
	return t, nil
}
