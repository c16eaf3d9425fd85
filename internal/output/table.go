package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/status"
	"github.com/jbweber/anvil/internal/storage"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatMachine formats a single machine record as a table row.
func (f *TableFormatter) FormatMachine(spec *v1alpha1.MachineSpec) (string, error) {
	return f.FormatMachineList([]*v1alpha1.MachineSpec{spec})
}

// FormatMachineList formats machine records as a table.
func (f *TableFormatter) FormatMachineList(specs []*v1alpha1.MachineSpec) (string, error) {
	if len(specs) == 0 {
		return "No machines found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tPHASE\tREADY\tSERVER ID\tFAMILY\tAGE\tRESTARTED")
	}

	for _, spec := range specs {
		serverID, family, age, restarted := "-", "-", "-", "-"
		if loc := spec.Location; loc != nil {
			serverID = loc.ServerID
			family = v1alpha1.FamilyFor(loc.IsWindows).String()
			if !loc.AllocatedAt.IsZero() {
				age = formatAge(time.Since(loc.AllocatedAt.Time))
			}
			if loc.StartedAt != nil {
				restarted = formatAge(time.Since(loc.StartedAt.Time)) + " ago"
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			spec.Name, status.PhaseFor(spec), readiness(spec), serverID, family, age, restarted)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatPools formats storage pools as a table.
func (f *TableFormatter) FormatPools(pools []storage.PoolInfo) string {
	if len(pools) == 0 {
		return "No pools found\n"
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tSTATE\tCAPACITY\tAVAILABLE\tPATH")
	}
	for _, p := range pools {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f GiB\t%.1f GiB\t%s\n",
			p.Name, p.Type, p.State, p.CapacityGB(), p.AvailableGB(), p.Path)
	}

	_ = w.Flush()
	return buf.String()
}

// FormatVolumes formats the volumes of one pool as a table.
func (f *TableFormatter) FormatVolumes(vols []storage.VolumeInfo) string {
	if len(vols) == 0 {
		return "No volumes found\n"
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tCAPACITY\tALLOCATED\tPATH")
	}
	for _, v := range vols {
		_, _ = fmt.Fprintf(w, "%s\t%.1f GiB\t%.1f GiB\t%s\n",
			v.Name, gib(v.Capacity), gib(v.Allocation), v.Path)
	}

	_ = w.Flush()
	return buf.String()
}

func gib(b uint64) float64 {
	return float64(b) / (1 << 30)
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
