package rtnl

import (
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// addrAttrs lists, per family, the NLA types whose value is an IPv4/IPv6
// address rather than a plain integer (the kernel reuses the same 4-byte
// width for both, so the codec needs this table to tell them apart).
var addrAttrs = map[Family]map[uint16]bool{
	FamilyAddr:  {IFA_ADDRESS: true, IFA_LOCAL: true, IFA_BROADCAST: true},
	FamilyRoute: {RTA_DST: true, RTA_SRC: true, RTA_GATEWAY: true},
	FamilyRule:  {FRA_SRC: true, FRA_DST: true},
	FamilyNeigh: {NDA_DST: true},
}

// isAddrAttr reports whether typ carries an IPv4/IPv6 address for this
// message. For an MPLS route (rtm_family AF_MPLS) RTA_DST/RTA_GATEWAY
// instead carry an MPLS label stack, which happens to be the same 4-byte
// width as an IPv4 address — afFamily, the header's own "family" field,
// disambiguates the two so a label stack is never misdecoded as an IP.
func isAddrAttr(family Family, afFamily int64, typ uint16) bool {
	if family == FamilyRoute && afFamily == AF_MPLS {
		return false
	}
	return addrAttrs[family][typ]
}

// stringAttrs lists, per family, the NLA types that carry a
// NUL-terminated text string (names, labels) rather than a binary value.
var stringAttrs = map[Family]map[uint16]bool{
	FamilyLink: {IFLA_IFNAME: true},
	FamilyAddr: {IFA_LABEL: true},
}

func isStringAttr(family Family, typ uint16) bool {
	return stringAttrs[family][typ]
}

// rtmTable maps a raw netlink header type to the (family, action) pair our
// dispatch tables key on. Only the message types the database consumes
// are recognised; anything else is reported as unknown so the caller can
// log and drop it.
var rtmTable = map[uint16]struct {
	Family Family
	Action Action
}{
	unix.RTM_NEWLINK: {FamilyLink, ActionNew},
	unix.RTM_DELLINK: {FamilyLink, ActionDel},
	unix.RTM_GETLINK: {FamilyLink, ActionGet},
	unix.RTM_SETLINK: {FamilyLink, ActionSet},

	unix.RTM_NEWADDR: {FamilyAddr, ActionNew},
	unix.RTM_DELADDR: {FamilyAddr, ActionDel},
	unix.RTM_GETADDR: {FamilyAddr, ActionGet},

	unix.RTM_NEWROUTE: {FamilyRoute, ActionNew},
	unix.RTM_DELROUTE: {FamilyRoute, ActionDel},
	unix.RTM_GETROUTE: {FamilyRoute, ActionGet},

	unix.RTM_NEWNEIGH: {FamilyNeigh, ActionNew},
	unix.RTM_DELNEIGH: {FamilyNeigh, ActionDel},
	unix.RTM_GETNEIGH: {FamilyNeigh, ActionGet},

	unix.RTM_NEWRULE: {FamilyRule, ActionNew},
	unix.RTM_DELRULE: {FamilyRule, ActionDel},
	unix.RTM_GETRULE: {FamilyRule, ActionGet},
}

// headerTypeFor is the inverse of rtmTable, used when building an outbound
// request from an object's diff (pkg/ndb/object's make_req).
func headerTypeFor(family Family, action Action) (uint16, error) {
	for t, fa := range rtmTable {
		if fa.Family == family && fa.Action == action {
			return t, nil
		}
	}
	return 0, fmt.Errorf("rtnl: no message type for family=%d action=%d", family, action)
}

// ErrUnknownMessage is returned by Parse for a netlink message type the
// database does not model (e.g. a qdisc notification it only mirrors but
// never dumps). Callers log and drop these.
type ErrUnknownMessage struct{ Type uint16 }

func (e ErrUnknownMessage) Error() string {
	return fmt.Sprintf("rtnl: unknown message type %d", e.Type)
}

// Parse decodes a batch of raw netlink messages (as returned by Conn.Receive)
// into the database's tagged Msg union. Malformed attribute sections are
// reported per-message, not fatal to the whole batch; Parse itself is
// best-effort per message.
func Parse(raw []netlink.Message) ([]Msg, []error) {
	var msgs []Msg
	var errs []error
	for _, m := range raw {
		fa, ok := rtmTable[uint16(m.Header.Type)]
		if !ok {
			errs = append(errs, ErrUnknownMessage{Type: uint16(m.Header.Type)})
			continue
		}
		header, body, err := splitFixedHeader(fa.Family, m.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("rtnl: fixed header: %w", err))
			continue
		}
		attrs, err := decodeAttrs(fa.Family, header["family"], body)
		if err != nil {
			errs = append(errs, fmt.Errorf("rtnl: attributes: %w", err))
			continue
		}
		msgs = append(msgs, Msg{Family: fa.Family, Action: fa.Action, Header: header, Attrs: attrs})
	}
	return msgs, errs
}

// decodeAttrs walks a netlink attribute section into an Attrs map. IP
// address attributes (family-dependent, see addrAttrs) decode to their
// dotted/colon string form; other scalars decode as the smallest integer
// width that fits; anything else is kept as raw bytes so callers can
// interpret family-specific nested/variable attributes themselves (e.g.
// IFLA_LINKINFO).
func decodeAttrs(family Family, afFamily int64, b []byte) (Attrs, error) {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return nil, err
	}
	out := Attrs{}
	for ad.Next() {
		typ := ad.Type()
		data := ad.Bytes()
		if isAddrAttr(family, afFamily, typ) && (len(data) == 4 || len(data) == 16) {
			out[typ] = net.IP(data).String()
			continue
		}
		if isStringAttr(family, typ) {
			out[typ] = ad.String()
			continue
		}
		switch len(data) {
		case 1:
			out[typ] = int64(data[0])
		case 2:
			out[typ] = int64(ad.Uint16())
		case 4:
			out[typ] = int64(ad.Uint32())
		case 8:
			out[typ] = int64(ad.Uint64())
		default:
			cp := make([]byte, len(data))
			copy(cp, data)
			out[typ] = cp
		}
	}
	if err := ad.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeAttrs is the inverse of decodeAttrs, used when building an outbound
// Request's wire body.
func encodeAttrs(family Family, header map[string]int64, attrs Attrs) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	for typ, v := range attrs {
		if s, ok := v.(string); ok && isAddrAttr(family, header["family"], typ) {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("rtnl: invalid address %q for nla %d", s, typ)
			}
			if ip4 := ip.To4(); ip4 != nil {
				ae.Bytes(typ, ip4)
			} else {
				ae.Bytes(typ, ip.To16())
			}
			continue
		}
		switch val := v.(type) {
		case int64:
			// Every top-level integer attribute in these families is a
			// kernel u32 (IFLA_MASTER, RTA_OIF, FRA_TABLE, ...); only an
			// MPLS label stack wider than 32 bits needs u64.
			if val >= 0 && val <= 0xffffffff {
				ae.Uint32(typ, uint32(val))
			} else {
				ae.Uint64(typ, uint64(val))
			}
		case int:
			ae.Uint32(typ, uint32(val))
		case uint32:
			ae.Uint32(typ, val)
		case string:
			ae.String(typ, val)
		case []byte:
			ae.Bytes(typ, val)
		default:
			return nil, fmt.Errorf("rtnl: unsupported attribute value type %T for nla %d", v, typ)
		}
	}
	return ae.Encode()
}

// EncodeLinkInfo builds the nested IFLA_LINKINFO payload announcing an
// interface kind and, for VLANs, the 802.1q id. The result goes into a
// Request's Attrs as raw bytes, mirroring how Parse leaves nested
// attributes undecoded.
func EncodeLinkInfo(kind string, vlanID int) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.String(IFLA_INFO_KIND, kind)
	if kind == "vlan" && vlanID != 0 {
		data := netlink.NewAttributeEncoder()
		data.Uint16(IFLA_VLAN_ID, uint16(vlanID))
		b, err := data.Encode()
		if err != nil {
			return nil, err
		}
		ae.Bytes(IFLA_INFO_DATA, b)
	}
	return ae.Encode()
}

// Encode turns an outbound Request into a raw netlink.Message ready to be
// handed to Conn.Send. The fixed per-family header (ifinfmsg, ifaddrmsg,
// rtmsg, ndmsg, fibmsg) is assumed already flattened into req.Header by the
// caller (pkg/ndb/object), since only the object layer knows which fields
// are structural versus attribute-carried for its family.
func Encode(req Request, flags netlink.HeaderFlags) (netlink.Message, error) {
	typ, err := headerTypeFor(req.Family, req.Action)
	if err != nil {
		return netlink.Message{}, err
	}
	if req.Action == ActionNew {
		flags |= netlink.Create | netlink.Excl
	}
	fixed, err := buildFixedHeader(req.Family, req.Header)
	if err != nil {
		return netlink.Message{}, err
	}
	body, err := encodeAttrs(req.Family, req.Header, req.Attrs)
	if err != nil {
		return netlink.Message{}, err
	}
	return netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(typ),
			Flags: netlink.Request | flags,
		},
		Data: append(fixed, body...),
	}, nil
}
