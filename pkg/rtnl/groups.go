package rtnl

import "golang.org/x/sys/unix"

// Groups is the union of rtnetlink multicast groups a Source subscribes
// to: link/addr/route/neigh/rule/tc.
func Groups() []uint32 {
	return []uint32{
		unix.RTNLGRP_LINK,
		unix.RTNLGRP_IPV4_IFADDR,
		unix.RTNLGRP_IPV6_IFADDR,
		unix.RTNLGRP_IPV4_ROUTE,
		unix.RTNLGRP_IPV6_ROUTE,
		unix.RTNLGRP_NEIGH,
		unix.RTNLGRP_IPV4_RULE,
		unix.RTNLGRP_IPV6_RULE,
		unix.RTNLGRP_TC,
	}
}

// groupMask ORs a set of RTNLGRP_* bit positions into the bitmask accepted
// by a netlink socket bind (group N subscribes via bit 1<<(N-1)).
func groupMask(groups []uint32) uint32 {
	var mask uint32
	for _, g := range groups {
		if g == 0 {
			continue
		}
		mask |= 1 << (g - 1)
	}
	return mask
}

// ECONNRESET on the receive path means the socket was closed gracefully;
// the reader must terminate without raising.
const ECONNRESET = int(unix.ECONNRESET)
