package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// netnsDir is where `ip netns add` bind-mounts named namespaces.
const netnsDir = "/var/run/netns"

// dialNetns opens a netlink socket inside the named network namespace.
// mdlayher/netlink's Config.NetNS
// expects an open file descriptor for the target namespace; Dial does
// the unix.Setns dance internally, on a locked OS thread, around the
// socket() call only, so the goroutine is free to return to the default
// namespace afterwards.
func dialNetns(target string, options map[string]store.SourceOption) (rtnl.Conn, error) {
	name := target
	if opt, ok := options["netns"]; ok && opt.Value != "" {
		name = opt.Value
	}

	f, err := os.Open(filepath.Join(netnsDir, name))
	if err != nil {
		return nil, fmt.Errorf("ndb: netns %s: %w", name, err)
	}
	defer f.Close()

	return rtnl.Dial(int(f.Fd()))
}
