package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrSSHPortRequired means the bootstrap options configure SSH without a port.
	ErrSSHPortRequired = errors.New("bootstrap_options.ssh.port must be specified")

	// ErrUnsupportedBootstrap means the bootstrap options do not configure SSH.
	ErrUnsupportedBootstrap = errors.New("bootstrapping is supported for ssh only")

	// ErrTemplateNotFound means the clone source does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrMachineNotFound means the record is not linked to a live resource.
	ErrMachineNotFound = errors.New("machine has no platform resource")

	// ErrTimeout means the readiness budget ran out.
	ErrTimeout = errors.New("timed out waiting for machine")

	// ErrNameConflict means an unlinked resource already uses the machine name.
	ErrNameConflict = errors.New("a resource with the machine name already exists")
)

// MachineError is a fatal lifecycle error with enough context to find the
// resource it concerns.
type MachineError struct {
	Op        string
	Machine   string
	ServerID  string
	DriverURL string
	Err       error
}

func (e *MachineError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("%s machine %s on %s: %v", e.Op, e.Machine, e.DriverURL, e.Err)
	}
	return fmt.Sprintf("%s machine %s (%s on %s): %v", e.Op, e.Machine, e.ServerID, e.DriverURL, e.Err)
}

func (e *MachineError) Unwrap() error {
	return e.Err
}
