// Package status manages the phase and conditions recorded on a
// MachineSpec as lifecycle operations progress.
package status

import (
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// SetCondition adds or updates a condition on the machine.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(spec *v1alpha1.MachineSpec, condType string, status v1alpha1.ConditionStatus, reason, message string, now time.Time) {
	ts := v1alpha1.NewTime(now)

	for i := range spec.Status.Conditions {
		if spec.Status.Conditions[i].Type == condType {
			existing := &spec.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = ts
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	spec.Status.Conditions = append(spec.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: ts,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(spec *v1alpha1.MachineSpec, condType string) *v1alpha1.Condition {
	for i := range spec.Status.Conditions {
		if spec.Status.Conditions[i].Type == condType {
			return &spec.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(spec *v1alpha1.MachineSpec, condType string) bool {
	cond := GetCondition(spec, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(spec *v1alpha1.MachineSpec, condType string) bool {
	cond := GetCondition(spec, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(spec *v1alpha1.MachineSpec, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(spec.Status.Conditions))
	for i := range spec.Status.Conditions {
		if spec.Status.Conditions[i].Type != condType {
			filtered = append(filtered, spec.Status.Conditions[i])
		}
	}
	spec.Status.Conditions = filtered
}
