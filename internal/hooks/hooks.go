// Package hooks invokes operator-supplied external programs on
// allocate/deallocate/lease-renew events, per spec.md §4.3/§6.4.
//
// Hook failure (non-zero exit or spawn error) is logged and ignored: it
// never fails the DHCP transaction that triggered it.
package hooks

import (
	"context"
	"log/slog"
	"net"
	"os/exec"
	"time"
)

// Timeout bounds how long a hook process is allowed to run before it is
// killed. Hooks are meant to be fire-and-forget notifications (updating a
// DNS record, pinging a webhook); a hook that hangs must not wedge the
// worker that fired it.
const Timeout = 5 * time.Second

// Run spawns path with the three positional arguments spec.md §6.4
// specifies: the assigned IP, the client's hardware address (lowercase
// colon-separated hex), and the hostname (or an empty string). It does not
// parse hook output, and it never returns an error — callers cannot
// accidentally let a hook failure affect the DHCP transaction.
//
// Run does nothing if path is empty, which is how an unconfigured hook is
// represented.
func Run(path string, ip net.IP, mac net.HardwareAddr, hostname string) {
	if path == "" {
		return
	}

	// Fire-and-forget: run the subprocess on its own goroutine so a slow
	// hook never blocks the caller beyond issuing exec.CommandContext.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), Timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, path, ip.String(), mac.String(), hostname)
		if err := cmd.Run(); err != nil {
			slog.Warn("hook failed", "hook", path, "ip", ip.String(), "mac", mac.String(), "err", err)
		}
	}()
}
