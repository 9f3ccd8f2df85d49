// Package peerlink provides interfaces for connections between routers in
// different processes.
//
// This package defines the core abstractions for the robomesh connection
// manager:
//   - ConnectionManager: accepts and dials connections, one remote link each
//   - PeerInfo: a snapshot of one live connection
//   - LinkState: the lifecycle state of a remote link
//
// A connection carries the robomesh wire protocol: a symmetric handshake
// (magic constant, nonce bounce, name hints) followed by checksummed frames.
// The same protocol runs over raw TCP or over a websocket.
//
// Key behaviors:
//   - The accepting side offers no name hint and attaches the link under the
//     dialer's hint, or a generated name if none was offered
//   - Frames received on a connection enter the router with their source
//     prefixed by the link name, and are never routed back onto the same link
//   - Writes on one connection are serialized; a failed write detaches the link
//   - Attaching a connection broadcasts a topology-changed notification so
//     subscribers re-request their values
//
// Example usage:
//
//	manager, err := peerlink.NewManager(peerlink.Config{
//		NodeID:        "driver-station",
//		ListenAddress: ":5800",
//	}, node)
//	if err != nil {
//		return err
//	}
//	if err := manager.Start(ctx); err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	// Reach the robot as "robot/..."
//	info, err := manager.Dial(ctx, "10.0.0.2:5800", "robot")
//	if err != nil {
//		return err
//	}
//	fmt.Println(info.Name, info.State)
package peerlink
