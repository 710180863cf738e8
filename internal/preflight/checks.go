package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"quacwatch/internal/config"
	"quacwatch/internal/deps"
)

const shareDialTimeout = 2 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadable verifies that the directory exists and can be listed.
func CheckReadable(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "readable")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckFile verifies that a regular file exists and is readable.
func CheckFile(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a regular file)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// dialShare is swapped in tests.
var dialShare = func(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: shareDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckShareReachable verifies that a share's host accepts SMB connections.
// It does not require root and does not mount anything.
func CheckShareReachable(ctx context.Context, share config.Share) Result {
	name := "Share " + share.Name
	if strings.TrimSpace(share.Name) == "" {
		name = "Share " + share.Share + "@" + share.Host
	}
	host := strings.TrimSpace(share.Host)
	if host == "" {
		return Result{Name: name, Detail: "missing host"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, shareDialTimeout)
	defer cancel()

	if err := dialShare(checkCtx, net.JoinHostPort(host, "445")); err != nil {
		return Result{Name: name, Detail: summarizeDialError(host, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s:445 reachable", host)}
}

// CheckSystemDeps evaluates all system-level dependencies for the given config.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	statuses := []deps.Status{deps.CheckNextflow(cfg.Pipeline.NextflowBin)}
	if len(cfg.Mounts.Shares) == 0 {
		return statuses
	}
	requirements := []deps.Requirement{
		{
			Name:        "mount",
			Command:     "mount",
			Description: "Required to mount CIFS shares",
		},
		{
			Name:        "mount.cifs",
			Command:     "mount.cifs",
			Description: "Required to mount CIFS shares (cifs-utils)",
			Fallbacks:   []string{"/sbin/mount.cifs"},
		},
		{
			Name:        "umount",
			Command:     "umount",
			Description: "Required to remount stale shares",
		},
		{
			Name:        "ping",
			Command:     "ping",
			Description: "Share reachability probe; skipped when missing",
			Optional:    true,
		},
	}
	return append(statuses, deps.CheckBinaries(requirements)...)
}

// summarizeDialError produces a human-readable summary for share probe failures.
func summarizeDialError(host string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s:445 timed out", host)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s:445 timed out", host)
	}
	return fmt.Sprintf("%s:445 unreachable (%v)", host, err)
}
