package bridge

import "github.com/janus-bridge/janus/internal/dbstore"

// Observer reacts to bridge lifecycle changes so the worker supervisor can
// start/stop delivery workers without BridgeStore knowing about the
// supervisor. This replaces a global event-emitter pattern with a small
// typed interface list.
type Observer interface {
	OnBridgeCreated(bp dbstore.BridgePair)
	OnBridgeDeleted(bp dbstore.BridgePair)
	OnBridgeToggled(bp dbstore.BridgePair)
	OnBridgeRepaired(bp dbstore.BridgePair)
}
