package transport

import (
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// NewWinRM rejects Windows guests.
func NewWinRM(host string, opts *v1alpha1.WinRMOptions) (Transport, error) {
	return nil, fmt.Errorf("%w: %s", ErrWindowsUnsupported, host)
}
