// Package hostaddr finds the host address that shares a subnet with the
// target board, so the board can be told where the TFTP server lives.
package hostaddr

import (
	"fmt"
	"net/netip"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// ErrNoMatch is returned when no host address is on the target's subnet.
var ErrNoMatch = errors.New("no host address on the target subnet")

// Candidate is a host IPv4 address with its subnet mask.
type Candidate struct {
	Interface string
	IP        [4]byte
	Mask      [4]byte
}

// Addr returns the candidate address.
func (c Candidate) Addr() netip.Addr {
	return netip.AddrFrom4(c.IP)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s (%s)", c.Addr(), netip.AddrFrom4(c.Mask), c.Interface)
}

// Matches reports whether the candidate, under its own mask, equals device
// under mask, octet by octet.
func (c Candidate) Matches(device, mask [4]byte) bool {
	for i := range device {
		if c.IP[i]&c.Mask[i] != device[i]&mask[i] {
			return false
		}
	}
	return true
}

// FirstMatch returns the first candidate whose masked address equals the
// masked device address.
func FirstMatch(device, mask [4]byte, candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if c.Matches(device, mask) {
			return c, true
		}
	}
	return Candidate{}, false
}

// Lister enumerates host addresses.
type Lister func() ([]Candidate, error)

// Resolver finds the host address on the same subnet as a device.
type Resolver struct {
	List Lister
}

// NewResolver creates a Resolver backed by the host interfaces.
func NewResolver() *Resolver {
	return &Resolver{List: InterfaceCandidates}
}

// Resolve returns the first host address that, under its own mask, is on
// the same subnet as device.
func (r *Resolver) Resolve(device netip.Addr) (netip.Addr, error) {
	if !device.Is4() {
		return netip.Addr{}, errors.Errorf("device address %v is not IPv4", device)
	}
	list := r.List
	if list == nil {
		list = InterfaceCandidates
	}
	candidates, err := list()
	if err != nil {
		return netip.Addr{}, errors.Wrap(err, "list host addresses")
	}
	dev := device.As4()
	for _, c := range candidates {
		if c.Matches(dev, c.Mask) {
			glog.V(2).Infof("host address %s matches device %s", c, device)
			return c.Addr(), nil
		}
		glog.V(4).Infof("host address %s does not match device %s", c, device)
	}
	return netip.Addr{}, ErrNoMatch
}

// InterfaceCandidates lists the IPv4 addresses of the host interfaces that
// are up, skipping loopback.
func InterfaceCandidates() ([]Candidate, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			c, ok := parseCandidate(iface.Name, addr.Addr)
			if ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func parseCandidate(name, cidr string) (Candidate, bool) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil || !prefix.Addr().Is4() {
		return Candidate{}, false
	}
	return Candidate{
		Interface: name,
		IP:        prefix.Addr().As4(),
		Mask:      maskFromBits(prefix.Bits()),
	}, true
}

func maskFromBits(bits int) (mask [4]byte) {
	for i := 0; i < 4; i++ {
		switch {
		case bits >= 8:
			mask[i] = 0xff
			bits -= 8
		case bits > 0:
			mask[i] = byte(0xff << (8 - bits))
			bits = 0
		}
	}
	return
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
