package connsource

import (
	"fmt"
	"strings"
)

// ClusterState is the last observed role of a host.
type ClusterState uint32

const (
	// ClusterStateUnknown - the role was never observed or the observation expired.
	ClusterStateUnknown ClusterState = iota
	// ClusterStatePrimaryReadWrite - the host is a primary accepting writes.
	ClusterStatePrimaryReadWrite
	// ClusterStatePrimaryReadOnly - the host is a primary in read-only mode.
	ClusterStatePrimaryReadOnly
	// ClusterStateStandby - the host is a hot standby.
	ClusterStateStandby
	// ClusterStateOffline - the host could not be reached.
	ClusterStateOffline
)

var clusterStateNames = [...]string{
	ClusterStateUnknown:          "unknown",
	ClusterStatePrimaryReadWrite: "primary-read-write",
	ClusterStatePrimaryReadOnly:  "primary-read-only",
	ClusterStateStandby:          "standby",
	ClusterStateOffline:          "offline",
}

func (s ClusterState) String() string {
	if int(s) < len(clusterStateNames) {
		return clusterStateNames[s]
	}
	return fmt.Sprintf("ClusterState(%d)", uint32(s))
}

// TargetSessionAttributes is the host role a caller asks for when several
// hosts are configured.
//
//	  Attributes        Accepted roles
//	----------------  -----------------------------------------------
//	| any            | every reachable host                          |
//	| primary        | primary (read-write or read-only)             |
//	| standby        | standby                                       |
//	| prefer-primary | primary, otherwise any reachable host         |
//	| prefer-standby | standby, otherwise any reachable host         |
//	| read-write     | primary accepting writes                      |
//	| read-only      | read-only primary or standby                  |
type TargetSessionAttributes uint32

const (
	Any TargetSessionAttributes = iota
	Primary
	PreferPrimary
	Standby
	PreferStandby
	ReadWrite
	ReadOnly
)

var targetSessionAttributesNames = [...]string{
	Any:           "any",
	Primary:       "primary",
	PreferPrimary: "prefer-primary",
	Standby:       "standby",
	PreferStandby: "prefer-standby",
	ReadWrite:     "read-write",
	ReadOnly:      "read-only",
}

func (a TargetSessionAttributes) String() string {
	if int(a) < len(targetSessionAttributesNames) {
		return targetSessionAttributesNames[a]
	}
	return fmt.Sprintf("TargetSessionAttributes(%d)", uint32(a))
}

// IsPrefer reports whether a is one of the prefer-* attributes, which fall
// back to any reachable host.
func (a TargetSessionAttributes) IsPrefer() bool {
	return a == PreferPrimary || a == PreferStandby
}

// ParseTargetSessionAttributes parses the connection string form of the
// attributes. Case, '-' and '_' are ignored.
func ParseTargetSessionAttributes(s string) (TargetSessionAttributes, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	for i, name := range targetSessionAttributesNames {
		if normalized == strings.Replace(name, "-", "", -1) {
			return TargetSessionAttributes(i), nil
		}
	}
	return Any, fmt.Errorf("%w: %q", ErrInvalidTargetSessionAttributes, s)
}
