// Package meshnode provides interfaces for the node orchestrator.
//
// A MeshNode composes the robomesh components into one process:
//   - a router holding local topics, wildcard listeners and named links
//   - a connection manager attaching one remote link per TCP or websocket
//     connection
//   - a typed bridge publishing and subscribing values, events, log targets
//     and byte streams, plus the ENCODER-LIST topic directory
//   - remote device query and signal
//   - a store for log records received on this node's log targets
//
// Paths are slash separated: "robot/arm/BI:limit" reaches topic BI:limit on
// the router attached as link "arm" on the router attached as "robot".
//
// Example usage:
//
//	node, err := meshnode.NewNode(meshnode.NewConfig("driver", ":5800").
//		WithPeers([]string{"robot=10.0.0.2:5800"}))
//	if err != nil {
//		return err
//	}
//	if err := node.Start(ctx); err != nil {
//		return err
//	}
//	defer node.Close()
//
//	topics, err := node.Discover(ctx, "robot")
package meshnode
