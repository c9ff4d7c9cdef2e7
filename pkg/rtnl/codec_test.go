package rtnl

import (
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEncodeThenParseRoundTripsLinkMessage(t *testing.T) {
	req := Request{
		Family: FamilyLink,
		Action: ActionNew,
		Header: map[string]int64{"family": 0, "type": 0, "index": 7, "flags": 1, "change": 0},
		Attrs:  Attrs{IFLA_IFNAME: "dummy0"},
	}

	wire, err := Encode(req, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(unix.RTM_NEWLINK), uint16(wire.Header.Type))

	msgs, errs := Parse([]netlink.Message{wire})
	require.Empty(t, errs)
	require.Len(t, msgs, 1)

	assert.Equal(t, FamilyLink, msgs[0].Family)
	assert.Equal(t, ActionNew, msgs[0].Action)
	assert.EqualValues(t, 7, msgs[0].Header["index"])
	assert.Equal(t, "dummy0", msgs[0].Attrs[IFLA_IFNAME])
}

func TestEncodeThenParseRoundTripsAddressAttr(t *testing.T) {
	req := Request{
		Family: FamilyAddr,
		Action: ActionNew,
		Header: map[string]int64{"family": unix.AF_INET, "prefixlen": 24, "ifa_flags": 0, "scope": 0, "index": 3},
		Attrs:  Attrs{IFA_LOCAL: "10.0.0.1"},
	}

	wire, err := Encode(req, 0)
	require.NoError(t, err)

	msgs, errs := Parse([]netlink.Message{wire})
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "10.0.0.1", msgs[0].Attrs[IFA_LOCAL])
	assert.EqualValues(t, 24, msgs[0].Header["prefixlen"])
}

func TestEncodeThenParseKeepsMPLSLabelStackOutOfAddressDecoding(t *testing.T) {
	// A single-label MPLS stack entry is 4 bytes wide, the same width as
	// an IPv4 address. For an AF_MPLS route, RTA_DST must fall through
	// to the generic numeric decode rather than being misread as an IP.
	const label int64 = 0x00010203
	req := Request{
		Family: FamilyRoute,
		Action: ActionNew,
		Header: map[string]int64{"family": AF_MPLS, "dst_len": 20, "table": 254, "protocol": 0, "scope": 0, "rtm_type": 1, "flags": 0},
		Attrs:  Attrs{RTA_DST: label},
	}

	wire, err := Encode(req, 0)
	require.NoError(t, err)

	msgs, errs := Parse([]netlink.Message{wire})
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, label, msgs[0].Attrs[RTA_DST])
}

func TestEncodeThenParseRoundTripsIPv4RouteAttr(t *testing.T) {
	req := Request{
		Family: FamilyRoute,
		Action: ActionNew,
		Header: map[string]int64{"family": unix.AF_INET, "dst_len": 24, "table": 254, "protocol": 0, "scope": 0, "rtm_type": 1, "flags": 0},
		Attrs:  Attrs{RTA_DST: "10.0.0.0"},
	}

	wire, err := Encode(req, 0)
	require.NoError(t, err)

	msgs, errs := Parse([]netlink.Message{wire})
	require.Empty(t, errs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "10.0.0.0", msgs[0].Attrs[RTA_DST])
}

func TestParseReportsUnknownMessageType(t *testing.T) {
	msgs, errs := Parse([]netlink.Message{{Header: netlink.Header{Type: 9999}}})
	assert.Empty(t, msgs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unknown message type")
}

func TestHeaderTypeForReturnsErrorForUnmappedPair(t *testing.T) {
	_, err := headerTypeFor(FamilyLink, Action(99))
	assert.Error(t, err)
}

func TestSplitFixedHeaderRejectsShortBuffers(t *testing.T) {
	_, _, err := splitFixedHeader(FamilyLink, []byte{0, 1, 2})
	assert.Error(t, err)
}

func TestBuildLinkFixedHeaderLayout(t *testing.T) {
	h := map[string]int64{"family": 0, "type": 0, "index": 9, "flags": 0x1003, "change": 0}
	buf := buildLink(h)
	require.Len(t, buf, 16)

	parsed, rest, err := splitLink(buf)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.EqualValues(t, 9, parsed["index"])
	assert.EqualValues(t, 0x1003, parsed["flags"])
}
