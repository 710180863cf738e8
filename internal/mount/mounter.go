package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"quacwatch/internal/config"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
	"quacwatch/internal/services"
)

const (
	smbPort     = "445"
	dialTimeout = 2 * time.Second
)

// Test seams.
var (
	runCommand = func(ctx context.Context, name string, args ...string) error {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		if err != nil {
			if msg := strings.TrimSpace(string(out)); msg != "" {
				return fmt.Errorf("%w: %s", err, msg)
			}
			return err
		}
		return nil
	}
	dialTCP = func(ctx context.Context, address string, timeout time.Duration) error {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	lookPath     = exec.LookPath
	geteuid      = unix.Geteuid
	getuid       = os.Getuid
	getgid       = os.Getgid
	isMountpoint = mountpointActive
	canList      = listable
	settleDelay  = 200 * time.Millisecond
)

// Result is the outcome of ensuring one share.
type Result struct {
	Name       string
	Mountpoint string
	Err        error
}

// OK reports success.
func (r Result) OK() bool { return r.Err == nil }

// String renders "OK" or "FAIL: <msg>".
func (r Result) String() string {
	if r.Err == nil {
		return "OK"
	}
	return "FAIL: " + r.Err.Error()
}

// Mounter mounts the configured shares.
type Mounter struct {
	specs           []Spec
	continueOnError bool
	unmountOnExit   bool
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// New builds a mounter for the configured shares.
func New(cfg config.Mounts, logger *slog.Logger, m *metrics.Metrics) *Mounter {
	specs := make([]Spec, 0, len(cfg.Shares))
	for _, share := range cfg.Shares {
		specs = append(specs, SpecFromConfig(share))
	}
	return &Mounter{
		specs:           specs,
		continueOnError: cfg.ContinueOnError,
		unmountOnExit:   cfg.UnmountOnExit,
		logger:          logging.NewComponentLogger(logger, "mounter"),
		metrics:         m,
	}
}

// Specs returns the configured shares.
func (m *Mounter) Specs() []Spec {
	return append([]Spec(nil), m.specs...)
}

// Enabled reports whether any share is configured.
func (m *Mounter) Enabled() bool {
	return m != nil && len(m.specs) > 0
}

// UnmountOnExit reports the configured shutdown policy.
func (m *Mounter) UnmountOnExit() bool {
	return m != nil && m.unmountOnExit
}

// Preflight checks that the mount helpers exist and the process runs as root.
func Preflight() error {
	if _, err := lookPath("mount"); err != nil {
		return services.Wrap(services.ErrExternalTool, "mount", "preflight", "mount binary not found", err)
	}
	if _, err := lookPath("mount.cifs"); err != nil {
		if _, statErr := os.Stat("/sbin/mount.cifs"); statErr != nil {
			return services.Wrap(services.ErrExternalTool, "mount", "preflight", "mount.cifs not found (install cifs-utils)", err)
		}
	}
	if geteuid() != 0 {
		return services.Wrap(services.ErrConfiguration, "mount", "preflight", "mounting shares requires root", nil)
	}
	return nil
}

// EnsureAll mounts every configured share. With continue_on_error failures
// are logged and the results returned; otherwise the first failure aborts
// and is returned.
func (m *Mounter) EnsureAll(ctx context.Context) ([]Result, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if err := Preflight(); err != nil {
		if !m.continueOnError {
			return nil, err
		}
		results := make([]Result, 0, len(m.specs))
		for _, spec := range m.specs {
			results = append(results, Result{Name: spec.DisplayName(), Mountpoint: spec.Mountpoint, Err: err})
		}
		logging.WarnWithContext(m.logger, "share mounting unavailable; continuing", "mount_preflight_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run as root with cifs-utils installed"),
			logging.String(logging.FieldImpact, "watch targets on shares scan whatever is at the mountpoint"),
		)
		return results, nil
	}

	results := make([]Result, 0, len(m.specs))
	for _, spec := range m.specs {
		err := m.Ensure(ctx, spec)
		results = append(results, Result{Name: spec.DisplayName(), Mountpoint: spec.Mountpoint, Err: err})
		if err == nil {
			continue
		}
		if !m.continueOnError {
			return results, fmt.Errorf("mount %q: %w", spec.DisplayName(), err)
		}
		logging.WarnWithContext(m.logger, "share mount failed; continuing", "mount_failed",
			logging.String("share", spec.DisplayName()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check host reachability and credentials"),
			logging.String(logging.FieldImpact, "targets on this share report scan errors until it mounts"),
		)
	}
	return results, nil
}

// Ensure makes spec's mountpoint a healthy CIFS mount. It is idempotent.
func (m *Mounter) Ensure(ctx context.Context, spec Spec) (err error) {
	defer func() {
		m.metrics.MountAttempt(spec.DisplayName(), err == nil)
	}()
	logger := m.logger.With(logging.String("share", spec.DisplayName()))

	if err := spec.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "mount", "validate", spec.DisplayName(), err)
	}
	if err := os.MkdirAll(spec.Mountpoint, 0o755); err != nil {
		return services.Wrap(services.ErrMount, "mount", "create mountpoint", spec.Mountpoint, err)
	}
	if err := reachable(ctx, spec.Host); err != nil {
		return services.Wrap(services.ErrMount, "mount", "reachability", spec.Host, err)
	}

	mounted, err := isMountpoint(spec.Mountpoint)
	if err != nil {
		logger.Debug("mountpoint check failed", logging.Error(err))
	}
	if mounted {
		if canList(spec.Mountpoint) {
			logger.Debug("share already mounted", logging.String("mountpoint", spec.Mountpoint))
			return nil
		}
		logging.WarnWithContext(logger, "mounted share not listable; remounting", "mount_stale",
			logging.String("mountpoint", spec.Mountpoint),
			logging.String(logging.FieldImpact, "share is force-unmounted and mounted again"),
		)
		if err := runCommand(ctx, "umount", "-f", spec.Mountpoint); err != nil {
			logger.Debug("forced unmount failed", logging.Error(err))
		}
	}

	credsPath, err := writeCredentials(spec)
	if err != nil {
		return services.Wrap(services.ErrMount, "mount", "write credentials", "", err)
	}
	defer os.Remove(credsPath)

	var lastErr error
	for _, vers := range spec.Versions() {
		opts := spec.options(getuid(), getgid(), credsPath, vers)
		if err := runCommand(ctx, "mount", "-t", "cifs", spec.Source(), spec.Mountpoint, "-o", opts); err != nil {
			lastErr = fmt.Errorf("vers=%s: %w", vers, err)
			logger.Debug("mount attempt failed", logging.String("vers", vers), logging.Error(err))
			continue
		}
		if settleDelay > 0 {
			select {
			case <-time.After(settleDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !canList(spec.Mountpoint) {
			lastErr = fmt.Errorf("vers=%s: mounted but listing failed", vers)
			continue
		}
		logger.Info("share mounted",
			logging.String("source", spec.Source()),
			logging.String("mountpoint", spec.Mountpoint),
			logging.String("vers", vers),
			logging.String(logging.FieldEventType, "share_mounted"),
		)
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no protocol version succeeded")
	}
	return services.Wrap(services.ErrMount, "mount", "mount cifs", spec.Source(), lastErr)
}

// UnmountAll unmounts every configured mountpoint that is currently mounted.
// Failures are logged only.
func (m *Mounter) UnmountAll(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	for _, spec := range m.specs {
		mounted, err := isMountpoint(spec.Mountpoint)
		if err != nil || !mounted {
			continue
		}
		if err := runCommand(ctx, "umount", spec.Mountpoint); err != nil {
			logging.WarnWithContext(m.logger, "unmount failed", "unmount_failed",
				logging.String("share", spec.DisplayName()),
				logging.String("mountpoint", spec.Mountpoint),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "share may still be mounted; manual umount may be needed"),
			)
			continue
		}
		m.logger.Info("share unmounted",
			logging.String("share", spec.DisplayName()),
			logging.String("mountpoint", spec.Mountpoint),
			logging.String(logging.FieldEventType, "share_unmounted"),
		)
	}
}

// GuardFor returns a pre-scan hook that re-ensures the share containing
// input, or nil when input is not below any configured mountpoint.
func (m *Mounter) GuardFor(input string) func(context.Context) error {
	if !m.Enabled() {
		return nil
	}
	for _, spec := range m.specs {
		if IsSubpath(input, spec.Mountpoint) {
			spec := spec
			return func(ctx context.Context) error {
				return m.Ensure(ctx, spec)
			}
		}
	}
	return nil
}

// reachable requires a ping reply (when ping exists) and an open SMB port.
func reachable(ctx context.Context, host string) error {
	if _, err := lookPath("ping"); err == nil {
		if err := runCommand(ctx, "ping", "-c", "1", "-W", "2", host); err != nil {
			return fmt.Errorf("no ping reply from %s: %w", host, err)
		}
	}
	if err := dialTCP(ctx, net.JoinHostPort(host, smbPort), dialTimeout); err != nil {
		return fmt.Errorf("port %s on %s closed: %w", smbPort, host, err)
	}
	return nil
}

// writeCredentials stores the credentials in a 0600 temp file.
func writeCredentials(spec Spec) (string, error) {
	file, err := os.CreateTemp("", "quacwatch-cifs-*")
	if err != nil {
		return "", err
	}
	path := file.Name()
	if err := file.Chmod(0o600); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	var b strings.Builder
	b.WriteString("username=" + spec.Username + "\n")
	b.WriteString("password=" + spec.Password + "\n")
	if spec.Domain != "" {
		b.WriteString("domain=" + spec.Domain + "\n")
	}
	if _, err := file.WriteString(b.String()); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// mountpointActive reports whether path is a mount root: its device differs
// from its parent's.
func mountpointActive(path string) (bool, error) {
	var self, parent unix.Stat_t
	if err := unix.Stat(path, &self); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(filepath.Clean(path)), &parent); err != nil {
		return false, err
	}
	return self.Dev != parent.Dev, nil
}

func listable(path string) bool {
	dir, err := os.Open(path)
	if err != nil {
		return false
	}
	defer dir.Close()
	_, err = dir.Readdirnames(1)
	return err == nil || errors.Is(err, io.EOF)
}

func itoa(v int) string { return strconv.Itoa(v) }
