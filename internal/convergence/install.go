package convergence

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/action"
	"github.com/jbweber/anvil/internal/transport"
)

const (
	unixStagingDir    = "/tmp"
	windowsStagingDir = `C:\Windows\Temp`
)

// InstallCached uploads a locally cached installer to a Unix guest, runs it,
// then runs the configured command.
type InstallCached struct {
	base
}

// Kind implements Strategy.
func (s *InstallCached) Kind() Kind { return KindInstallCached }

// Converge implements Strategy.
func (s *InstallCached) Converge(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, t transport.Transport) error {
	if s.opts.InstallerPath != "" {
		remote := path.Join(unixStagingDir, filepath.Base(s.opts.InstallerPath))
		if err := upload(ctx, h, t, s.opts.InstallerPath, remote); err != nil {
			return err
		}
		if err := execute(ctx, h, t, "sh "+remote); err != nil {
			return err
		}
	}
	if s.opts.RunCommand != "" {
		return execute(ctx, h, t, s.opts.RunCommand)
	}
	return nil
}

// InstallMSI uploads an MSI package to a Windows guest and installs it with
// msiexec, then runs the configured command.
type InstallMSI struct {
	base
}

// Kind implements Strategy.
func (s *InstallMSI) Kind() Kind { return KindInstallMSI }

// Converge implements Strategy.
func (s *InstallMSI) Converge(ctx context.Context, h action.Handler, spec *v1alpha1.MachineSpec, t transport.Transport) error {
	if s.opts.InstallerPath != "" {
		remote := windowsStagingDir + `\` + filepath.Base(s.opts.InstallerPath)
		if err := upload(ctx, h, t, s.opts.InstallerPath, remote); err != nil {
			return err
		}
		if err := execute(ctx, h, t, fmt.Sprintf(`msiexec /qn /i "%s"`, remote)); err != nil {
			return err
		}
	}
	if s.opts.RunCommand != "" {
		return execute(ctx, h, t, s.opts.RunCommand)
	}
	return nil
}

func upload(ctx context.Context, h action.Handler, t transport.Transport, local, remote string) error {
	return h.PerformAction(fmt.Sprintf("upload %s to %s", filepath.Base(local), remote), func() error {
		return t.Upload(ctx, local, remote)
	})
}

func execute(ctx context.Context, h action.Handler, t transport.Transport, cmd string) error {
	return h.PerformAction("run "+cmd, func() error {
		out, err := t.Execute(ctx, cmd)
		if out != "" {
			h.ReportProgress(out)
		}
		return err
	})
}
