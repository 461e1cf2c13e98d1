package registry

import "errors"

var (
	// ErrNodeNotFound is returned when an operation references an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeBusy is returned by TryReserve when it loses the race for an
	// idle node, or the node was never online.
	ErrNodeBusy = errors.New("node is busy")
	// ErrDuplicateHardware is returned by RegisterNode when the owner has
	// already registered a node with this hardware fingerprint.
	ErrDuplicateHardware = errors.New("hardware fingerprint already registered")
)
