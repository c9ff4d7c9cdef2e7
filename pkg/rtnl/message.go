// Package rtnl is the low-level rtnetlink codec and socket binding: it
// turns raw netlink datagrams into typed RTNL messages and back, and owns
// the AF_NETLINK/NETLINK_ROUTE socket itself. Higher layers (pkg/ndb/source)
// never touch netlink.Conn directly.
package rtnl

import "fmt"

// Family distinguishes the RTNL message families consumed by the database.
type Family uint16

const (
	FamilyLink  Family = 1
	FamilyAddr  Family = 2
	FamilyRoute Family = 3
	FamilyNeigh Family = 4
	FamilyRule  Family = 5
	FamilyQdisc Family = 6
)

// Action is the verb carried by an RTNL message (new/del/get/set).
type Action uint8

const (
	ActionNew Action = iota
	ActionDel
	ActionGet
	ActionSet
)

// Attrs is a decoded netlink attribute set, keyed by NLA type. Values are
// one of string, int64, []byte, or net.HardwareAddr/net.IP (callers type
// assert the field they expect).
type Attrs map[uint16]any

// Msg is one decoded RTNL message: a family, an action, and its attribute
// set plus the family-specific header fields callers need to form a key
// (index, family, table, ...). Header is intentionally untyped (map) so a
// single Msg shape covers all six families instead of one struct type per
// family.
type Msg struct {
	Family Family
	Action Action
	Header map[string]int64
	Attrs  Attrs
}

func (Msg) IsEvent() {}

func (m Msg) String() string {
	return fmt.Sprintf("rtnl.Msg{family=%d action=%d header=%v}", m.Family, m.Action, m.Header)
}

// Request is what an object commit asks the Source to send to the kernel:
// a family, an action, and the attribute diff to apply.
type Request struct {
	Family Family
	Action Action
	Header map[string]int64
	Attrs  Attrs
}
