package status

import (
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// MarkAllocated records that a platform resource now backs the machine.
func MarkAllocated(spec *v1alpha1.MachineSpec, now time.Time) {
	spec.Status.Phase = v1alpha1.MachinePhaseAllocated
	SetCondition(spec, v1alpha1.ConditionAllocated, v1alpha1.ConditionTrue, "Cloned", "platform resource exists", now)
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Allocated", "machine has not been readied", now)
}

// MarkReady records that the guest is up and the transport answers.
func MarkReady(spec *v1alpha1.MachineSpec, now time.Time) {
	spec.Status.Phase = v1alpha1.MachinePhaseReady
	SetCondition(spec, v1alpha1.ConditionTransportAvailable, v1alpha1.ConditionTrue, "Connected", "remote transport is available", now)
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, "MachineReady", "guest agent running with an address", now)
}

// MarkTransportUnavailable records a transport wait that ran out of time.
func MarkTransportUnavailable(spec *v1alpha1.MachineSpec, message string, now time.Time) {
	SetCondition(spec, v1alpha1.ConditionTransportAvailable, v1alpha1.ConditionFalse, "TimedOut", message, now)
}

// MarkStopped records a powered-off machine.
func MarkStopped(spec *v1alpha1.MachineSpec, now time.Time) {
	spec.Status.Phase = v1alpha1.MachinePhaseStopped
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Stopped", "machine is powered off", now)
}

// MarkStarted records a powered-on machine that has not been readied yet.
// A Ready machine keeps its phase.
func MarkStarted(spec *v1alpha1.MachineSpec, now time.Time) {
	if spec.Status.Phase == v1alpha1.MachinePhaseReady {
		return
	}
	spec.Status.Phase = v1alpha1.MachinePhaseAllocated
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Started", "machine is powered on", now)
}

// MarkDestroyed records that the platform resource is gone.
func MarkDestroyed(spec *v1alpha1.MachineSpec, now time.Time) {
	spec.Status.Phase = v1alpha1.MachinePhaseDestroyed
	SetCondition(spec, v1alpha1.ConditionAllocated, v1alpha1.ConditionFalse, "Destroyed", "platform resource was destroyed", now)
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, "Destroyed", "platform resource was destroyed", now)
	RemoveCondition(spec, v1alpha1.ConditionTransportAvailable)
}

// MarkFailed sets Ready to False with reason. The phase is left alone: it
// tracks the resource, not the last operation.
func MarkFailed(spec *v1alpha1.MachineSpec, reason, message string, now time.Time) {
	SetCondition(spec, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message, now)
}

// PhaseFor derives the phase from the record. A record without a location
// is Unallocated unless it was destroyed; a record with one is never
// Unallocated or Destroyed.
func PhaseFor(spec *v1alpha1.MachineSpec) v1alpha1.MachinePhase {
	if spec.Location == nil {
		if spec.Status.Phase == v1alpha1.MachinePhaseDestroyed {
			return v1alpha1.MachinePhaseDestroyed
		}
		return v1alpha1.MachinePhaseUnallocated
	}

	switch spec.Status.Phase {
	case v1alpha1.MachinePhaseReady, v1alpha1.MachinePhaseStopped, v1alpha1.MachinePhaseAllocated:
		return spec.Status.Phase
	default:
		return v1alpha1.MachinePhaseAllocated
	}
}
