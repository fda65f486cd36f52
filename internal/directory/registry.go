package directory

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"cipherroom/internal/domain"
)

// Registry is the in-memory state of the directory and room-key services.
type Registry struct {
	mu       sync.Mutex
	devices  map[domain.UserID]map[domain.DeviceID]domain.WireDevice
	roomKeys map[domain.RoomID]map[domain.KeyVersion]domain.RoomKeyRecord
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[domain.UserID]map[domain.DeviceID]domain.WireDevice),
		roomKeys: make(map[domain.RoomID]map[domain.KeyVersion]domain.RoomKeyRecord),
	}
}

// Register stores or replaces the device entry of reg.
func (r *Registry) Register(reg domain.KeyRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs, ok := r.devices[reg.UserID]
	if !ok {
		devs = make(map[domain.DeviceID]domain.WireDevice)
		r.devices[reg.UserID] = devs
	}
	devs[reg.DeviceID] = domain.WireDevice{
		DeviceID:          reg.DeviceID,
		DeviceName:        reg.DeviceName,
		RegistrationID:    reg.RegistrationID,
		IdentityPublicKey: reg.IdentityPublicKey,
		SigningPublicKey:  reg.SigningPublicKey,
		SignedPreKey:      reg.SignedPreKey,
		OneTimePreKeys:    append([]domain.WireOneTimePreKey(nil), reg.OneTimePreKeys...),
	}
}

// TakeKeys returns every device of user, each with at most one one-time
// pre-key. Returned one-time pre-keys are removed so none is handed out twice.
func (r *Registry) TakeKeys(user domain.UserID) (domain.UserKeys, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs, ok := r.devices[user]
	if !ok || len(devs) == 0 {
		return domain.UserKeys{}, false
	}
	ids := sortedIDs(devs)
	out := domain.UserKeys{Devices: make([]domain.WireDevice, 0, len(ids))}
	for _, id := range ids {
		out.Devices = append(out.Devices, takeLocked(devs, id))
	}
	return out, true
}

// TakeDeviceKeys is TakeKeys for a single device.
func (r *Registry) TakeDeviceKeys(addr domain.DeviceAddress) (domain.WireDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs := r.devices[addr.UserID]
	if _, ok := devs[addr.DeviceID]; !ok {
		return domain.WireDevice{}, false
	}
	return takeLocked(devs, addr.DeviceID), true
}

// Devices lists the device ids of user without touching any pre-key.
func (r *Registry) Devices(user domain.UserID) ([]domain.DeviceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs, ok := r.devices[user]
	if !ok || len(devs) == 0 {
		return nil, false
	}
	return sortedIDs(devs), true
}

// takeLocked copies device id and moves its first one-time pre-key, if any,
// into the copy. Caller holds r.mu.
func takeLocked(devs map[domain.DeviceID]domain.WireDevice, id domain.DeviceID) domain.WireDevice {
	d := devs[id]
	entry := d
	entry.OneTimePreKeys = nil
	if len(d.OneTimePreKeys) > 0 {
		entry.OneTimePreKeys = []domain.WireOneTimePreKey{d.OneTimePreKeys[0]}
		d.OneTimePreKeys = d.OneTimePreKeys[1:]
		devs[id] = d
	}
	return entry
}

func sortedIDs(devs map[domain.DeviceID]domain.WireDevice) []domain.DeviceID {
	ids := make([]domain.DeviceID, 0, len(devs))
	for id := range devs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RemainingOneTimePreKeys reports how many one-time pre-keys a device still has on offer.
func (r *Registry) RemainingOneTimePreKeys(addr domain.DeviceAddress) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices[addr.UserID][addr.DeviceID].OneTimePreKeys)
}

// PutRoomKey stores a record; a version that exists already is rejected.
func (r *Registry) PutRoomKey(room domain.RoomID, upload domain.RoomKeyUpload) error {
	if upload.Version == 0 {
		return errors.New("version must be at least 1")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.roomKeys[room]
	if !ok {
		versions = make(map[domain.KeyVersion]domain.RoomKeyRecord)
		r.roomKeys[room] = versions
	}
	if _, exists := versions[upload.Version]; exists {
		return errors.Wrapf(domain.ErrVersionConflict, "room %s version %d", room, upload.Version)
	}
	versions[upload.Version] = domain.RoomKeyRecord{
		RoomID:  room,
		Version: upload.Version,
		Sender:  upload.Sender,
		Members: upload.EncryptedKeys,
	}
	return nil
}

// RoomKey returns the record of version, or the highest version when version is 0.
func (r *Registry) RoomKey(room domain.RoomID, version domain.KeyVersion) (domain.RoomKeyRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.roomKeys[room]
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	rec, ok := versions[version]
	return rec, ok
}
