package rtnlremote

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/rtnl"
)

func TestEncodeDecodeMsgRoundTrip(t *testing.T) {
	mac, err := net.ParseMAC("02:42:ac:11:00:02")
	require.NoError(t, err)

	msg := rtnl.Msg{
		Family: rtnl.FamilyAddr,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 3, "family": 2},
		Attrs: rtnl.Attrs{
			1: "eth0",
			2: int64(24),
			3: []byte{0x01, 0x02, 0x03},
			4: mac,
			5: net.ParseIP("10.0.0.1").To4(),
		},
	}

	s, err := encodeEvent(msg)
	require.NoError(t, err)

	got, err := decodeEvent(s)
	require.NoError(t, err)

	assert.Equal(t, msg.Family, got.Family)
	assert.Equal(t, msg.Action, got.Action)
	assert.Equal(t, msg.Header, got.Header)
	assert.Equal(t, "eth0", got.Attrs[1])
	assert.Equal(t, int64(24), got.Attrs[2])
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.Attrs[3])
	assert.Equal(t, net.HardwareAddr(mac), got.Attrs[4])
	assert.True(t, net.ParseIP("10.0.0.1").To4().Equal(got.Attrs[5].(net.IP)))
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := rtnl.Request{
		Family: rtnl.FamilyRoute,
		Action: rtnl.ActionDel,
		Header: map[string]int64{"table": 254},
		Attrs: rtnl.Attrs{
			1: "10.0.0.0/24",
		},
	}

	s, err := encodeRequest(req)
	require.NoError(t, err)

	got, err := decodeRequest(s)
	require.NoError(t, err)

	assert.Equal(t, req.Family, got.Family)
	assert.Equal(t, req.Action, got.Action)
	assert.Equal(t, req.Header, got.Header)
	assert.Equal(t, req.Attrs[1], got.Attrs[1])
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	msgs := []rtnl.Msg{
		{Family: rtnl.FamilyLink, Action: rtnl.ActionNew, Header: map[string]int64{"index": 1}, Attrs: rtnl.Attrs{1: "lo"}},
		{Family: rtnl.FamilyLink, Action: rtnl.ActionNew, Header: map[string]int64{"index": 2}, Attrs: rtnl.Attrs{1: "eth0"}},
	}

	s, err := encodeResponse(msgs)
	require.NoError(t, err)

	got, err := decodeResponseMsgs(s)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "lo", got[0].Attrs[1])
	assert.Equal(t, "eth0", got[1].Attrs[1])
}

func TestEncodeResponseEmpty(t *testing.T) {
	s, err := encodeResponse(nil)
	require.NoError(t, err)

	got, err := decodeResponseMsgs(s)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeAttrsUnknownKind(t *testing.T) {
	_, err := decodeAttrs([]wireAttr{{Key: 1, Kind: "bogus"}})
	assert.Error(t, err)
}

func TestEncodeAttrsUnsupportedType(t *testing.T) {
	_, err := encodeAttrs(rtnl.Attrs{1: 3.14})
	assert.Error(t, err)
}
