package rtnl

// Netlink attribute (NLA) type numbers for the rtnetlink families this
// database models. These come from the kernel's uapi headers
// (linux/if_link.h, linux/if_addr.h, linux/rtnetlink.h,
// linux/neighbour.h, linux/fib_rules.h) rather than golang.org/x/sys/unix,
// which only carries the RTM_*/RTNLGRP_* message-level constants.
const (
	IFLA_ADDRESS   = 1
	IFLA_BROADCAST = 2
	IFLA_IFNAME    = 3
	IFLA_MTU       = 4
	IFLA_LINK      = 5
	IFLA_MASTER    = 10
	IFLA_LINKINFO  = 18

	IFLA_INFO_KIND = 1
	IFLA_INFO_DATA = 2

	IFLA_VLAN_ID       = 1
	IFLA_VLAN_PROTOCOL = 5

	// nested under IFLA_INFO_DATA for kind=bridge
	IFLA_BR_STP_STATE      = 5
	IFLA_BR_VLAN_FILTERING = 7

	IFLA_VXLAN_ID    = 1
	IFLA_VXLAN_GROUP = 2
	IFLA_VXLAN_LINK  = 3
	IFLA_VXLAN_LOCAL = 4

	IFLA_VRF_TABLE = 1

	IFA_ADDRESS   = 1
	IFA_LOCAL     = 2
	IFA_LABEL     = 3
	IFA_BROADCAST = 4
	IFA_FLAGS     = 8

	RTA_DST       = 1
	RTA_SRC       = 2
	RTA_OIF       = 4
	RTA_GATEWAY   = 5
	RTA_PRIORITY  = 6
	RTA_MULTIPATH = 9
	RTA_TABLE     = 15

	NDA_DST    = 1
	NDA_LLADDR = 2

	FRA_DST      = 1
	FRA_SRC      = 2
	FRA_PRIORITY = 6
	FRA_TABLE    = 15
)

// AF_MPLS is the rtm_family value for an MPLS route.
// It is not one of the rtnl.Family message-family
// constants above — it is the kernel address-family byte carried in the
// rtmsg header, the same slot AF_INET/AF_INET6 occupy for v4/v6 routes.
const AF_MPLS = 28
