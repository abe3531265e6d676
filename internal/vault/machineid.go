package vault

import (
	"os"
	"strings"
)

// machineIdentifier candidates, checked in order. /etc/machine-id is the
// systemd-maintained per-install identifier on Linux; /var/lib/dbus/machine-id
// is its older D-Bus predecessor, still present on some distros without
// systemd. Hostname is the last resort so the vault still binds to
// *something* machine-specific rather than silently falling back to a
// constant.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// machineIdentifier returns a best-effort per-machine identifier used as
// scrypt password material, binding a vault file to the host it was
// created on: copying secrets.json and salt to another machine is not
// enough to decrypt them.
func machineIdentifier() []byte {
	for _, p := range machineIDPaths {
		if data, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return []byte(id)
			}
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return []byte(host)
	}
	return []byte("intercessio-vault")
}
