package output

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/status"
)

// MachineList is the list object written by the YAML and JSON formatters.
// Phases counts the items by their derived phase.
type MachineList struct {
	v1alpha1.TypeMeta `json:",inline" yaml:",inline"`

	Phases map[v1alpha1.MachinePhase]int `json:"phases" yaml:"phases"`
	Items  []*v1alpha1.MachineSpec        `json:"items" yaml:"items"`
}

// view returns a copy of spec as it is shown to users: apiVersion and kind
// defaulted and the phase derived from the record rather than the last one
// written. spec itself is not modified.
func view(spec *v1alpha1.MachineSpec) *v1alpha1.MachineSpec {
	out := spec.DeepCopy()
	v1alpha1.SetDefaultAPIVersion(out)
	out.Status.Phase = status.PhaseFor(spec)
	return out
}

func newMachineList(specs []*v1alpha1.MachineSpec) *MachineList {
	list := &MachineList{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: v1alpha1.APIVersion(),
			Kind:       v1alpha1.MachineKind + "List",
		},
		Phases: make(map[v1alpha1.MachinePhase]int),
		Items:  make([]*v1alpha1.MachineSpec, 0, len(specs)),
	}
	for _, spec := range specs {
		v := view(spec)
		list.Phases[v.Status.Phase]++
		list.Items = append(list.Items, v)
	}
	return list
}

var phases = []v1alpha1.MachinePhase{
	v1alpha1.MachinePhaseUnallocated,
	v1alpha1.MachinePhaseAllocated,
	v1alpha1.MachinePhaseReady,
	v1alpha1.MachinePhaseStopped,
	v1alpha1.MachinePhaseDestroyed,
}

// ParsePhases parses a comma-separated list of phase names, matched without
// regard to case.
func ParsePhases(s string) ([]v1alpha1.MachinePhase, error) {
	var out []v1alpha1.MachinePhase
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		i := slices.IndexFunc(phases, func(p v1alpha1.MachinePhase) bool {
			return strings.EqualFold(string(p), name)
		})
		if i < 0 {
			return nil, fmt.Errorf("unknown phase %q (valid phases: %s)", name, phaseNames())
		}
		out = append(out, phases[i])
	}
	return out, nil
}

func phaseNames() string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// FilterByPhase keeps the records whose derived phase is one of want. An
// empty want keeps everything.
func FilterByPhase(specs []*v1alpha1.MachineSpec, want []v1alpha1.MachinePhase) []*v1alpha1.MachineSpec {
	if len(want) == 0 {
		return specs
	}
	var out []*v1alpha1.MachineSpec
	for _, spec := range specs {
		if slices.Contains(want, status.PhaseFor(spec)) {
			out = append(out, spec)
		}
	}
	return out
}

// readiness renders the Ready condition for the table: its status, and the
// reason when it is not True.
func readiness(spec *v1alpha1.MachineSpec) string {
	cond := status.GetCondition(spec, v1alpha1.ConditionReady)
	if cond == nil {
		return "-"
	}
	if cond.Status == v1alpha1.ConditionTrue || cond.Reason == "" {
		return string(cond.Status)
	}
	return fmt.Sprintf("%s (%s)", cond.Status, cond.Reason)
}
