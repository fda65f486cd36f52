package types

// RoomKey is one version of a room's symmetric key.
type RoomKey struct {
	RoomID      RoomID        `json:"room_id"`
	Version     KeyVersion    `json:"version"`
	Secret      RoomSecret    `json:"secret"`
	Distributor DeviceAddress `json:"distributor"`
	CreatedUTC  int64         `json:"created_utc"`
}

// RoomState is where a room sits in the key lifecycle on this device.
type RoomState uint8

const (
	RoomNoKey RoomState = iota
	RoomDistributing
	RoomDistributed
	RoomAwaitingFetch
	RoomCached
	RoomRotating
)

func (s RoomState) String() string {
	switch s {
	case RoomNoKey:
		return "no-key"
	case RoomDistributing:
		return "distributing"
	case RoomDistributed:
		return "distributed"
	case RoomAwaitingFetch:
		return "awaiting-fetch"
	case RoomCached:
		return "cached"
	case RoomRotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// DeviceDelivery records the fan-out outcome for one destination device.
type DeviceDelivery struct {
	Address DeviceAddress
	Err     error
}

// Delivered reports whether the device received key material.
func (d DeviceDelivery) Delivered() bool { return d.Err == nil }

// Distribution summarises one DistributeNewKey call.
type Distribution struct {
	RoomID     RoomID
	Version    KeyVersion
	Deliveries []DeviceDelivery
}

// Delivered lists the devices that received the key.
func (d Distribution) Delivered() []DeviceAddress {
	var out []DeviceAddress
	for _, dd := range d.Deliveries {
		if dd.Delivered() {
			out = append(out, dd.Address)
		}
	}
	return out
}

// Failures lists the per-device and per-member failures.
func (d Distribution) Failures() []DeviceDelivery {
	var out []DeviceDelivery
	for _, dd := range d.Deliveries {
		if !dd.Delivered() {
			out = append(out, dd)
		}
	}
	return out
}
