// Package vm provides the machine lifecycle driver.
//
// A Driver reconciles a persisted MachineSpec against the platform. Every
// operation starts by locating the platform resource through the record's
// server ID rather than trusting an in-memory handle, so any operation can be
// re-run after a crash or partial failure:
//   - Allocate: clone a machine from a template unless one is already linked
//   - Ready: power on, wait for the guest agent and an address, wait for the
//     remote transport, rebooting at most once when the transport never
//     comes up
//   - Start, Stop, Restart: power operations on a linked machine
//   - Destroy: delete the machine, clear the record, clean up convergence
//   - ConnectToMachine: build a Machine handle for a machine that is ready
//
// Error Handling:
//
// Fatal errors are returned as *MachineError, which names the operation, the
// machine, its server ID and the driver URL. Use errors.Is with the sentinel
// errors in this package to classify them.
//
// Waiting:
//
// Readiness waits are bounded by Remaining, which is re-evaluated on every
// poll. The budget is CreateTimeout from allocation until the driver reboots
// the machine, and StartTimeout from the reboot on.
//
// Dry Run:
//
// When the action handler does not perform actions, mutating platform calls
// and waits are skipped and only reported.
package vm
