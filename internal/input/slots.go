// Package input owns the fixed six-slot gamepad table: it tracks which
// physical device occupies which slot, honors operator-placed locks across
// reconnects, and exposes each slot's latest mapped reading for the
// coordinator to fold into an outbound control packet.
package input

import "github.com/openstation/engine/internal/wire"

// NumSlots is the number of joystick slots the wire protocol's control
// packet carries.
const NumSlots = 6

// Slot is one entry of the fixed joystick table.
type Slot struct {
	UUID      string
	Name      string
	Connected bool
	Locked    bool
	Reading   RawReading
}

func (s Slot) occupied() bool { return s.UUID != "" }

// SlotTable is the mutable six-slot device table.
type SlotTable struct {
	slots     [NumSlots]Slot
	lockedFor map[string]int // uuid -> slot it is locked to
}

// NewSlotTable creates an empty table.
func NewSlotTable() *SlotTable {
	return &SlotTable{
		lockedFor: make(map[string]int),
	}
}

// Slots returns a copy of the current slot table, in wire order.
func (t *SlotTable) Slots() [NumSlots]Slot { return t.slots }

// Slot returns slot i (0-indexed).
func (t *SlotTable) Slot(i int) Slot { return t.slots[i] }

// Sync reconciles the table against the backend's latest device list: it
// connects newly seen devices, updates readings for ones already occupying a
// slot, and disconnects devices that vanished.
func (t *SlotTable) Sync(devices []Device) {
	present := make(map[string]Device, len(devices))
	for _, d := range devices {
		present[d.UUID] = d
	}

	for i := range t.slots {
		s := &t.slots[i]
		if !s.occupied() || !s.Connected {
			continue
		}
		if _, ok := present[s.UUID]; !ok {
			t.disconnect(s.UUID)
		}
	}

	for _, d := range devices {
		if idx := t.indexOf(d.UUID); idx >= 0 && t.slots[idx].Connected {
			t.slots[idx].Reading = d.Reading
			t.slots[idx].Name = d.Name
			continue
		}
		t.connect(d.UUID, d.Name, d.Reading)
	}
}

func (t *SlotTable) indexOf(uuid string) int {
	for i, s := range t.slots {
		if s.UUID == uuid {
			return i
		}
	}
	return -1
}

func (t *SlotTable) findEmptySlot(excluding int) (int, bool) {
	for i, s := range t.slots {
		if i == excluding {
			continue
		}
		if !s.occupied() {
			return i, true
		}
	}
	return 0, false
}

// connect seats a newly-seen device. A locked uuid always takes its
// reserved slot; everything else takes the lowest free slot, every time —
// an unlocked device has no memory of where it sat before disconnecting.
func (t *SlotTable) connect(uuid, name string, reading RawReading) bool {
	if locked, ok := t.lockedFor[uuid]; ok {
		if occupant := t.slots[locked]; occupant.occupied() && occupant.UUID != uuid {
			t.displace(locked)
		}
		t.slots[locked] = Slot{UUID: uuid, Name: name, Connected: true, Locked: true, Reading: reading}
		return true
	}
	if idx, ok := t.findEmptySlot(-1); ok {
		t.slots[idx] = Slot{UUID: uuid, Name: name, Connected: true, Reading: reading}
		return true
	}
	return false
}

// displace moves an unlocked occupant of slot idx to another free slot,
// dropping it entirely if none is available.
func (t *SlotTable) displace(idx int) {
	occupant := t.slots[idx]
	t.slots[idx] = Slot{}
	if free, ok := t.findEmptySlot(idx); ok {
		t.slots[free] = occupant
	}
}

func (t *SlotTable) disconnect(uuid string) {
	idx := t.indexOf(uuid)
	if idx < 0 {
		return
	}
	if t.slots[idx].Locked {
		t.slots[idx].Connected = false
		return
	}
	t.slots[idx] = Slot{}
}

// PresetLock reserves slot for uuid before the device has ever connected,
// the way a saved configuration's lock table is replayed at startup. The
// slot shows up as locked-but-disconnected until the device appears.
func (t *SlotTable) PresetLock(uuid string, slot int) bool {
	if slot < 0 || slot >= NumSlots || t.slots[slot].occupied() {
		return false
	}
	t.slots[slot] = Slot{UUID: uuid, Locked: true, Connected: false}
	t.lockedFor[uuid] = slot
	return true
}

// LockAt pins uuid to a specific slot, moving it there (displacing any
// unlocked occupant) if it currently sits elsewhere, or reserving the slot
// via PresetLock if the device hasn't connected yet. It fails if the slot is
// held by another locked device.
func (t *SlotTable) LockAt(uuid string, slot int) bool {
	if slot < 0 || slot >= NumSlots {
		return false
	}
	idx := t.indexOf(uuid)
	if idx < 0 {
		return t.PresetLock(uuid, slot)
	}
	if idx == slot {
		t.slots[idx].Locked = true
		t.lockedFor[uuid] = slot
		return true
	}
	current := t.slots[idx]
	if occupant := t.slots[slot]; occupant.occupied() {
		if occupant.Locked {
			return false
		}
		t.displace(slot)
	}
	current.Locked = true
	t.slots[slot] = current
	t.slots[idx] = Slot{}
	t.lockedFor[uuid] = slot
	return true
}

// Lock pins uuid to its current slot so it survives reshuffles and keeps its
// reservation even while disconnected.
func (t *SlotTable) Lock(uuid string) bool {
	idx := t.indexOf(uuid)
	if idx < 0 {
		return false
	}
	t.slots[idx].Locked = true
	t.lockedFor[uuid] = idx
	return true
}

// Unlock releases uuid's reservation. If the device is currently
// disconnected its slot is freed immediately.
func (t *SlotTable) Unlock(uuid string) {
	delete(t.lockedFor, uuid)
	idx := t.indexOf(uuid)
	if idx < 0 {
		return
	}
	t.slots[idx].Locked = false
	if !t.slots[idx].Connected {
		t.slots[idx] = Slot{}
	}
}

// Reorder replaces the table according to order (a UUID per desired slot,
// 0..NumSlots). Devices not named in order keep their relative order and
// fill whatever slots are left over.
func (t *SlotTable) Reorder(order []string) {
	existing := make(map[string]Slot, NumSlots)
	var leftoverOrder []string
	for _, s := range t.slots {
		if s.occupied() {
			existing[s.UUID] = s
		}
	}
	placed := make(map[string]struct{}, len(order))

	var newSlots [NumSlots]Slot
	for i, uuid := range order {
		if i >= NumSlots {
			break
		}
		if s, ok := existing[uuid]; ok {
			newSlots[i] = s
			placed[uuid] = struct{}{}
		}
	}
	for _, s := range t.slots {
		if !s.occupied() {
			continue
		}
		if _, ok := placed[s.UUID]; ok {
			continue
		}
		leftoverOrder = append(leftoverOrder, s.UUID)
	}
	i := 0
	for _, uuid := range leftoverOrder {
		for i < NumSlots && newSlots[i].occupied() {
			i++
		}
		if i >= NumSlots {
			break
		}
		newSlots[i] = existing[uuid]
		placed[uuid] = struct{}{}
	}

	t.slots = newSlots
	t.lockedFor = make(map[string]int, NumSlots)
	for idx, s := range t.slots {
		if s.occupied() && s.Locked {
			t.lockedFor[s.UUID] = idx
		}
	}
}

// Locks returns a copy of the uuid-to-slot lock reservations, suitable for
// persisting to a config document and replaying via PresetLock on the next
// startup.
func (t *SlotTable) Locks() map[string]int {
	out := make(map[string]int, len(t.lockedFor))
	for uuid, slot := range t.lockedFor {
		out[uuid] = slot
	}
	return out
}

// JoystickData builds the wire-format joystick sections for every connected
// slot, in slot order, for the control packet's outbound builder. Reserved
// but disconnected slots are skipped.
func (t *SlotTable) JoystickData() []wire.JoystickData {
	out := make([]wire.JoystickData, 0, NumSlots)
	for _, s := range t.slots {
		if !s.occupied() || !s.Connected {
			continue
		}
		out = append(out, ToJoystickData(s.Reading))
	}
	return out
}
