package test_helpers

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	connsource "github.com/connsource/go-connsource"
)

// SetInstanceRole changes the role reported by inst.
func SetInstanceRole(inst *Instance, role connsource.ClusterState) {
	inst.mutex.Lock()
	defer inst.mutex.Unlock()
	inst.role = role
}

func SetClusterRoles(instances []*Instance, roles []connsource.ClusterState) error {
	if len(instances) != len(roles) {
		return fmt.Errorf("number of instances should be equal to number of roles")
	}

	for i, inst := range instances {
		SetInstanceRole(inst, roles[i])
	}

	return nil
}

// StartInstances starts one instance per server with the matching role.
func StartInstances(servers []string, roles []connsource.ClusterState) ([]*Instance, error) {
	if len(servers) != len(roles) {
		return nil, fmt.Errorf("number of servers should be equal to number of roles")
	}

	instances := make([]*Instance, 0, len(servers))

	for i, server := range servers {
		instance, err := StartInstance(StartOpts{Listen: server, Role: roles[i]})
		if err != nil {
			StopInstances(instances)
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func StopInstances(instances []*Instance) {
	for _, instance := range instances {
		StopInstance(instance)
	}
}

// Servers returns count host:port addresses on host, starting at firstPort.
func Servers(host string, firstPort int, count int) []string {
	servers := make([]string, count)
	for i := range servers {
		servers[i] = net.JoinHostPort(host, strconv.Itoa(firstPort+i))
	}
	return servers
}

// HostList joins servers into the Host value of a connection string.
func HostList(servers []string) string {
	return strings.Join(servers, ",")
}

// TotalLive sums Live over instances.
func TotalLive(instances []*Instance) int {
	live := 0
	for _, inst := range instances {
		live += inst.Live()
	}
	return live
}
