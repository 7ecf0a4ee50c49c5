package domain

// Keys under which the client persists its long-term state. Each key has
// exactly one owning subsystem, so read-modify-write cycles on different
// keys never race.
const (
	// StoragePreservedState holds the JSON {syncToken, rooms} snapshot
	// written by the state store.
	StoragePreservedState = "matrix-preserved-state"

	// StoragePeerRoomIDs holds the JSON recipient->roomID routing map.
	StoragePeerRoomIDs = "matrix-peer-room-ids"

	// StorageSelectedNode pins the relay chosen at first start.
	StorageSelectedNode = "matrix-selected-node"

	// StorageStandbyRoom holds the pre-provisioned empty room id kept by
	// wallet-role peers.
	StorageStandbyRoom = "standby-matrix-room"
)

// Storage is the persistent key-value store shared by the state store,
// the routing cache and the standby-room lifecycle.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}
