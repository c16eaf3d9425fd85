package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// DefaultKeyName is the key pair name used when none is configured.
const DefaultKeyName = "anvil_default"

// Reserved tags written on every machine. Caller tags with the same key win.
const (
	TagName          = "Name"
	TagBootstrapID   = "BootstrapId"
	TagBootstrapHost = "BootstrapHost"
	TagBootstrapUser = "BootstrapUser"
)

// resolveBootstrapOptions returns a copy of the caller's bootstrap options
// with defaults and reserved tags filled in. opts is never modified.
func resolveBootstrapOptions(spec *v1alpha1.MachineSpec, opts v1alpha1.MachineOptions, id Identity) *v1alpha1.BootstrapOptions {
	b := opts.BootstrapOptions.DeepCopy()
	if b == nil {
		b = &v1alpha1.BootstrapOptions{}
	}

	if b.KeyName == "" {
		b.KeyName = DefaultKeyName
	}

	tags := map[string]string{
		TagName:          spec.Name,
		TagBootstrapID:   spec.ID,
		TagBootstrapHost: id.Host,
		TagBootstrapUser: id.User,
	}
	for k, v := range b.Tags {
		tags[k] = v
	}
	b.Tags = tags

	if b.Name == "" {
		b.Name = spec.Name
	}
	return b
}

// describeBootstrap renders the options for progress output. Secrets are
// not included.
func describeBootstrap(b *v1alpha1.BootstrapOptions) []string {
	fields := map[string]string{
		"name":            b.Name,
		"key_name":        b.KeyName,
		"datacenter":      b.Datacenter,
		"template_folder": b.TemplateFolder,
		"template_name":   b.TemplateName,
		"vm_folder":       b.VMFolder,
		"datastore":       b.Datastore,
		"resource_pool":   b.ResourcePool,
		"cluster":         b.Cluster,
	}
	if b.SSH != nil {
		fields["ssh"] = fmt.Sprintf("user=%s port=%d", b.SSH.User, b.SSH.Port)
	}
	if len(b.Tags) > 0 {
		fields["tags"] = joinSorted(b.Tags)
	}

	var lines []string
	for k, v := range fields {
		if v == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
	}
	sort.Strings(lines)
	return lines
}

func joinSorted(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
