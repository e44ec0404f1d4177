package hostaddr

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(ip, mask string) Candidate {
	return Candidate{
		Interface: "eth",
		IP:        netip.MustParseAddr(ip).As4(),
		Mask:      netip.MustParseAddr(mask).As4(),
	}
}

func TestFirstMatch(t *testing.T) {
	candidates := []Candidate{
		cand("10.0.0.5", "255.0.0.0"),
		cand("192.168.1.20", "255.255.255.0"),
		cand("192.168.1.21", "255.255.255.0"),
	}
	cases := []struct {
		name   string
		device [4]byte
		mask   [4]byte
		want   string
		found  bool
	}{
		{
			name:   "second candidate",
			device: [4]byte{192, 168, 1, 77},
			mask:   [4]byte{255, 255, 255, 0},
			want:   "192.168.1.20",
			found:  true,
		},
		{
			name:   "first candidate",
			device: [4]byte{10, 9, 8, 7},
			mask:   [4]byte{255, 0, 0, 0},
			want:   "10.0.0.5",
			found:  true,
		},
		{
			name:   "no match",
			device: [4]byte{172, 16, 0, 1},
			mask:   [4]byte{255, 255, 0, 0},
		},
		{
			name:   "device mask differs from host mask",
			device: [4]byte{192, 168, 2, 1},
			mask:   [4]byte{255, 255, 0, 0},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := FirstMatch(c.device, c.mask, candidates)
			require.Equal(t, c.found, ok)
			if ok {
				assert.Equal(t, c.want, got.Addr().String())
			}
		})
	}
}

func TestFirstMatchEmpty(t *testing.T) {
	_, ok := FirstMatch([4]byte{1, 2, 3, 4}, [4]byte{255, 255, 255, 0}, nil)
	assert.False(t, ok)
}

func TestResolverUsesCandidateMask(t *testing.T) {
	r := &Resolver{List: func() ([]Candidate, error) {
		return []Candidate{
			cand("192.168.0.1", "255.255.255.0"),
			cand("192.168.1.1", "255.255.254.0"),
		}, nil
	}}
	addr, err := r.Resolve(netip.MustParseAddr("192.168.0.200"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.1", addr.String())

	addr, err = r.Resolve(netip.MustParseAddr("192.168.1.9"))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", addr.String())

	_, err = r.Resolve(netip.MustParseAddr("10.1.1.1"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolverErrors(t *testing.T) {
	listErr := errors.New("no ifaces")
	r := &Resolver{List: func() ([]Candidate, error) { return nil, listErr }}
	_, err := r.Resolve(netip.MustParseAddr("10.1.1.1"))
	assert.ErrorIs(t, err, listErr)
	assert.EqualError(t, err, "list host addresses: no ifaces")

	_, err = r.Resolve(netip.MustParseAddr("::1"))
	assert.Error(t, err)
}

func TestParseCandidate(t *testing.T) {
	c, ok := parseCandidate("eth0", "192.168.7.3/20")
	require.True(t, ok)
	assert.Equal(t, [4]byte{192, 168, 7, 3}, c.IP)
	assert.Equal(t, [4]byte{255, 255, 240, 0}, c.Mask)

	_, ok = parseCandidate("eth0", "fe80::1/64")
	assert.False(t, ok)
	_, ok = parseCandidate("eth0", "garbage")
	assert.False(t, ok)
}

func TestMaskFromBits(t *testing.T) {
	assert.Equal(t, [4]byte{0, 0, 0, 0}, maskFromBits(0))
	assert.Equal(t, [4]byte{255, 255, 255, 255}, maskFromBits(32))
	assert.Equal(t, [4]byte{255, 128, 0, 0}, maskFromBits(9))
}
