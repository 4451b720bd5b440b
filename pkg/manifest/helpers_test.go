package manifest

import "github.com/gwflow/gwsetup/pkg/host"

func hostProfile() host.Profile {
	return host.Profile{Name: "hera", CoresPerNode: 40, MemPerNodeMB: 192000}
}
