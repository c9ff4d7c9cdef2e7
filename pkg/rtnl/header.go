package rtnl

import (
	"encoding/binary"
	"fmt"
)

// The functions in this file (de)serialize the small fixed-size C structs
// that precede the attribute section in every rtnetlink message
// (ifinfmsg, ifaddrmsg, rtmsg, ndmsg, fib_rule_hdr). Field names in the
// returned/accepted map mirror the kernel struct field names so callers in
// pkg/ndb/object and pkg/ndb/store can address them without re-deriving
// the byte layout.

func splitFixedHeader(family Family, data []byte) (map[string]int64, []byte, error) {
	switch family {
	case FamilyLink:
		return splitLink(data)
	case FamilyAddr:
		return splitAddr(data)
	case FamilyRoute, FamilyRule:
		return splitRoute(data)
	case FamilyNeigh:
		return splitNeigh(data)
	default:
		return nil, nil, fmt.Errorf("rtnl: unsupported family %d", family)
	}
}

func buildFixedHeader(family Family, h map[string]int64) ([]byte, error) {
	switch family {
	case FamilyLink:
		return buildLink(h), nil
	case FamilyAddr:
		return buildAddr(h), nil
	case FamilyRoute, FamilyRule:
		return buildRoute(h), nil
	case FamilyNeigh:
		return buildNeigh(h), nil
	default:
		return nil, fmt.Errorf("rtnl: unsupported family %d", family)
	}
}

// ifinfmsg: family(1) pad(1) type(2) index(4) flags(4) change(4) = 16 bytes
func splitLink(data []byte) (map[string]int64, []byte, error) {
	if len(data) < 16 {
		return nil, nil, fmt.Errorf("rtnl: short ifinfmsg (%d bytes)", len(data))
	}
	h := map[string]int64{
		"family": int64(data[0]),
		"type":   int64(binary.LittleEndian.Uint16(data[2:4])),
		"index":  int64(int32(binary.LittleEndian.Uint32(data[4:8]))),
		"flags":  int64(binary.LittleEndian.Uint32(data[8:12])),
		"change": int64(binary.LittleEndian.Uint32(data[12:16])),
	}
	return h, data[16:], nil
}

func buildLink(h map[string]int64) []byte {
	buf := make([]byte, 16)
	buf[0] = byte(h["family"])
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h["type"]))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h["index"]))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h["flags"]))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h["change"]))
	return buf
}

// ifaddrmsg: family(1) prefixlen(1) flags(1) scope(1) index(4) = 8 bytes
func splitAddr(data []byte) (map[string]int64, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("rtnl: short ifaddrmsg (%d bytes)", len(data))
	}
	h := map[string]int64{
		"family":    int64(data[0]),
		"prefixlen": int64(data[1]),
		"ifa_flags": int64(data[2]),
		"scope":     int64(data[3]),
		"index":     int64(int32(binary.LittleEndian.Uint32(data[4:8]))),
	}
	return h, data[8:], nil
}

func buildAddr(h map[string]int64) []byte {
	buf := make([]byte, 8)
	buf[0] = byte(h["family"])
	buf[1] = byte(h["prefixlen"])
	buf[2] = byte(h["ifa_flags"])
	buf[3] = byte(h["scope"])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h["index"]))
	return buf
}

// rtmsg / fib_rule_hdr share a layout: family(1) dst_len(1) src_len(1)
// tos(1) table(1) protocol(1) scope(1) rtm_type(1) flags(4) = 12 bytes
func splitRoute(data []byte) (map[string]int64, []byte, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("rtnl: short rtmsg (%d bytes)", len(data))
	}
	h := map[string]int64{
		"family":   int64(data[0]),
		"dst_len":  int64(data[1]),
		"src_len":  int64(data[2]),
		"tos":      int64(data[3]),
		"table":    int64(data[4]),
		"protocol": int64(data[5]),
		"scope":    int64(data[6]),
		"rtm_type": int64(data[7]),
		"flags":    int64(binary.LittleEndian.Uint32(data[8:12])),
	}
	return h, data[12:], nil
}

func buildRoute(h map[string]int64) []byte {
	buf := make([]byte, 12)
	buf[0] = byte(h["family"])
	buf[1] = byte(h["dst_len"])
	buf[2] = byte(h["src_len"])
	buf[3] = byte(h["tos"])
	buf[4] = byte(h["table"])
	buf[5] = byte(h["protocol"])
	buf[6] = byte(h["scope"])
	buf[7] = byte(h["rtm_type"])
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h["flags"]))
	return buf
}

// ndmsg: family(1) pad(3) ifindex(4) state(2) ndm_flags(1) ndm_type(1) = 12 bytes
func splitNeigh(data []byte) (map[string]int64, []byte, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("rtnl: short ndmsg (%d bytes)", len(data))
	}
	h := map[string]int64{
		"family":    int64(data[0]),
		"ifindex":   int64(int32(binary.LittleEndian.Uint32(data[4:8]))),
		"state":     int64(binary.LittleEndian.Uint16(data[8:10])),
		"ndm_flags": int64(data[10]),
		"ndm_type":  int64(data[11]),
	}
	return h, data[12:], nil
}

func buildNeigh(h map[string]int64) []byte {
	buf := make([]byte, 12)
	buf[0] = byte(h["family"])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h["ifindex"]))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(h["state"]))
	buf[10] = byte(h["ndm_flags"])
	buf[11] = byte(h["ndm_type"])
	return buf
}
