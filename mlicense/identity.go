package mlicense

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// MachineIDEnv overrides the detected machine identity when set.
const MachineIDEnv = "MLICENSE_MACHINE_ID"

// MachineIdentity supplies the opaque identifier of the local host.
// Identifiers are compared byte for byte and never normalized.
type MachineIdentity interface {
	ID() (string, error)
}

// StaticIdentity is a fixed machine identity.
type StaticIdentity string

// ID returns the identity itself.
func (s StaticIdentity) ID() (string, error) {
	return string(s), nil
}

// EnvIdentity reads the identity from an environment variable. An unset
// variable yields an empty identity so the next provider can be tried.
type EnvIdentity struct {
	Name string
}

// ID returns the variable's value.
func (e EnvIdentity) ID() (string, error) {
	name := e.Name
	if name == "" {
		name = MachineIDEnv
	}
	return os.Getenv(name), nil
}

// HostFingerprint identifies the host by hashing its hostname, hardware
// addresses, OS, architecture and the Linux machine-id into a SHA-256 hex
// string. The value survives reboots but changes when network cards do,
// so containers should set MLICENSE_MACHINE_ID instead.
type HostFingerprint struct {
	// MachineIDPath defaults to /etc/machine-id.
	MachineIDPath string
}

// ID computes the fingerprint.
func (h HostFingerprint) ID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("get hostname: %w", err)
	}

	inputs := []string{hostname}
	inputs = append(inputs, hardwareAddrs()...)
	inputs = append(inputs, runtime.GOOS, runtime.GOARCH)

	idPath := h.MachineIDPath
	if idPath == "" {
		idPath = "/etc/machine-id"
	}
	if raw, err := os.ReadFile(idPath); err == nil {
		inputs = append(inputs, strings.TrimSpace(string(raw)))
	}

	sum := sha256.Sum256([]byte(strings.Join(inputs, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// hardwareAddrs lists the MAC addresses of non-loopback interfaces in
// sorted order. Interface enumeration errors yield nil.
func hardwareAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		addrs = append(addrs, iface.HardwareAddr.String())
	}
	sort.Strings(addrs)
	return addrs
}

// FirstOf returns the first non-empty identity from providers, in order.
func FirstOf(providers ...MachineIdentity) MachineIdentity {
	return identityChain(providers)
}

type identityChain []MachineIdentity

func (c identityChain) ID() (string, error) {
	for _, p := range c {
		id, err := p.ID()
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no machine identity available")
}

// DefaultIdentity checks MLICENSE_MACHINE_ID, then the host fingerprint.
func DefaultIdentity() MachineIdentity {
	return FirstOf(EnvIdentity{}, HostFingerprint{})
}
