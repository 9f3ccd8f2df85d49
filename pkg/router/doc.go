// Package router defines the contracts of the robomesh message router.
//
// This package defines the core abstractions shared by every component that
// sends or receives messages:
//   - Message: a payload plus optional destination and source paths
//   - Listener: a receive function paired with an identity token
//   - SubscriptionWatcher: observer of first-listener / last-listener transitions
//   - Link: a named transmission target attached to a router
//   - TransmitResult: the tri-state outcome of a link transmission
//
// Paths are slash-separated. The first segment of a destination selects a
// link; the remainder travels with the message to the next router. Two
// destinations are reserved: the empty path (deliver to whatever is attached
// at this hop) and "*" (broadcast).
//
// Example usage:
//
//	// Listen on a topic
//	l := router.NewListener(func(msg router.Message) {
//		fmt.Printf("%s from %s: %x\n", msg.Destination, msg.Source, msg.Payload)
//	})
//	node.Subscribe("BI:motorSpeed", l)
//
//	// Address a topic on the far side of the link named "robot"
//	node.Transmit(router.Message{
//		Destination: router.Join("robot", "BO:enabled"),
//		Source:      "BO:enabled-reply",
//		Payload:     []byte{7, 1},
//	}, nil)
//
// Sources are qualified on the receiving side: a router that accepts a
// message over a link prefixes the source with that link's name, so a reply
// addressed to the source retraces the path.
package router
