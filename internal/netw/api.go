// Package netw provides the rpcx-based peer transport used by the raft
// engine. The transport is assumed unreliable; callers get a bare bool and
// retry on their own schedule.
package netw

// RpcFunc issues a single RPC to a peer and reports whether a reply was
// received. It must not block indefinitely.
type RpcFunc func(apiName string, args interface{}, reply interface{}, peer int) bool

// ServiceRaft is the rpcx service path the raft RPC handlers are registered
// under on every node.
const ServiceRaft = "Raft"

const (
	ApiRequestVote     = "RequestVote"
	ApiAppendEntries   = "AppendEntries"
	ApiInstallSnapshot = "InstallSnapshot"
)
