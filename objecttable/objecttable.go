// Package objecttable parses and mutates the Z-Machine object tree: the
// packed byte table of attribute bitfields, parent/child/sibling links,
// and variable-length property lists described in §12 of the Z-Machine
// Standards Document.
package objecttable

import (
	"encoding/binary"

	"github.com/davetcode/zqz/internal/zerrs"
)

// ZVersion is the Z-Machine story-file version. Only the distinction
// rank < 4 vs rank >= 4 affects object-table layout.
type ZVersion uint8

// V1..V8 mirror the Z-Machine version numbers 1 through 8.
const (
	V1 ZVersion = 1
	V2 ZVersion = 2
	V3 ZVersion = 3
	V4 ZVersion = 4
	V5 ZVersion = 5
	V6 ZVersion = 6
	V7 ZVersion = 7
	V8 ZVersion = 8
)

func (v ZVersion) isOld() bool { return v < V4 }

// ObjectNumber is a 1-based object identifier. 0 is the sentinel "no
// object", used as a parent/child/sibling terminator.
type ObjectNumber uint16

const noObject ObjectNumber = 0

// propertyDefaultCount is the number of header slots property defaults
// occupy (31, all versions) - properties are numbered 1..31 in v1-3 and
// 1..63 in v4+, but the header default table is always 31 entries
// (§12.2).
const propertyDefaultCount = 31

type property struct {
	id   uint8
	data []byte
}

// ObjectEntry is a single object's record plus its parsed property list.
type ObjectEntry struct {
	Number            ObjectNumber
	Attributes        []byte // MSB-first bit order; 4 bytes (v1-3) or 6 bytes (v4+)
	Parent            ObjectNumber
	Sibling           ObjectNumber
	Child             ObjectNumber
	PropertyTableAddr uint32 // offset from staticBase into the supplied byte slice; 0 = none
	ShortName         []byte // opaque encoded text, head of the property table
	properties        []property
}

// ObjectTable owns every object parsed from a story file's object-table
// region and answers attribute/property/relationship queries. The zero
// value is an empty, unloaded table.
type ObjectTable struct {
	version          ZVersion
	memory           []byte
	staticBase       uint32
	attrByteLen      int
	recordSize       int
	objects          []ObjectEntry // index 0 unused; objects[i] is object number i
	propertyDefaults [propertyDefaultCount + 1]uint16
}

// attrBitLen returns the number of attribute bits for the loaded version.
func (t *ObjectTable) attrBitLen() int { return t.attrByteLen * 8 }

// Load parses the object-table region of story-file bytes starting at
// tableOffset. staticBase is the absolute byte address where static
// memory begins; each object's property-table address is stored relative
// to it (and reconstructed by adding it back) rather than as a raw
// absolute address.
//
// Load returns *CorruptStory on truncation, an invalid property number,
// or an out-of-range property-table address.
func Load(memory []byte, version ZVersion, tableOffset uint32, staticBase uint32) (*ObjectTable, error) {
	if int(tableOffset)+2*propertyDefaultCount > len(memory) {
		return nil, zerrs.Wrapf(zerrs.CorruptStory, "object table truncated reading property defaults at 0x%x", tableOffset)
	}

	t := &ObjectTable{
		version:    version,
		memory:     memory,
		staticBase: staticBase,
	}
	if version.isOld() {
		t.attrByteLen = 4
		t.recordSize = 9
	} else {
		t.attrByteLen = 6
		t.recordSize = 14
	}

	for p := 1; p <= propertyDefaultCount; p++ {
		off := tableOffset + uint32(2*(p-1))
		t.propertyDefaults[p] = binary.BigEndian.Uint16(memory[off : off+2])
	}

	recordsBase := tableOffset + 2*propertyDefaultCount
	t.objects = make([]ObjectEntry, 1) // placeholder for object 0

	for cursor := recordsBase; ; cursor += uint32(t.recordSize) {
		if int(cursor)+t.recordSize > len(memory) {
			return nil, zerrs.Wrapf(zerrs.CorruptStory, "object table truncated reading record at 0x%x", cursor)
		}
		record := memory[cursor : cursor+uint32(t.recordSize)]
		if allZero(record) {
			break
		}

		entry, err := t.parseRecord(record, ObjectNumber(len(t.objects)))
		if err != nil {
			return nil, err
		}
		t.objects = append(t.objects, entry)
	}

	for i := 1; i < len(t.objects); i++ {
		if err := t.loadProperties(&t.objects[i]); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (t *ObjectTable) parseRecord(record []byte, num ObjectNumber) (ObjectEntry, error) {
	entry := ObjectEntry{
		Number:     num,
		Attributes: append([]byte(nil), record[:t.attrByteLen]...),
	}

	var rawParent, rawSibling, rawChild, rawAddr uint32
	if t.version.isOld() {
		rawParent = uint32(record[4])
		rawSibling = uint32(record[5])
		rawChild = uint32(record[6])
		rawAddr = uint32(binary.BigEndian.Uint16(record[7:9]))
	} else {
		rawParent = uint32(binary.BigEndian.Uint16(record[6:8]))
		rawSibling = uint32(binary.BigEndian.Uint16(record[8:10]))
		rawChild = uint32(binary.BigEndian.Uint16(record[10:12]))
		rawAddr = uint32(binary.BigEndian.Uint16(record[12:14]))
	}

	entry.Parent = ObjectNumber(rawParent)
	entry.Sibling = ObjectNumber(rawSibling)
	entry.Child = ObjectNumber(rawChild)

	if rawAddr < t.staticBase {
		entry.PropertyTableAddr = 0
	} else {
		entry.PropertyTableAddr = rawAddr - t.staticBase
	}

	return entry, nil
}

// loadProperties parses the short name and property list at
// entry.PropertyTableAddr (§12.4).
func (t *ObjectTable) loadProperties(entry *ObjectEntry) error {
	if entry.PropertyTableAddr == 0 {
		return nil
	}

	addr := t.staticBase + entry.PropertyTableAddr
	if int(addr) >= len(t.memory) {
		return zerrs.Wrapf(zerrs.CorruptStory, "object %d property table address 0x%x out of range", entry.Number, addr)
	}

	textLen := t.memory[addr]
	cursor := addr + 1 + uint32(textLen)*2
	if int(cursor) > len(t.memory) {
		return zerrs.Wrapf(zerrs.CorruptStory, "object %d short name overruns memory", entry.Number)
	}
	entry.ShortName = append([]byte(nil), t.memory[addr+1:cursor]...)

	var lastID uint8 = 255 // properties must be strictly descending
	first := true
	for {
		if int(cursor) >= len(t.memory) {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d property list overruns memory", entry.Number)
		}
		header := t.memory[cursor]
		if header == 0 {
			break
		}

		id, size, headerLen, err := t.decodePropertyHeader(t.memory, cursor)
		if err != nil {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d: %v", entry.Number, err)
		}
		if id == 0 || (t.version.isOld() && id > 31) || (!t.version.isOld() && id > 63) {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d has invalid property number %d", entry.Number, id)
		}
		if !first && id >= lastID {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d property list not strictly descending (%d after %d)", entry.Number, id, lastID)
		}
		lastID = id
		first = false

		dataStart := cursor + uint32(headerLen)
		dataEnd := dataStart + uint32(size)
		if int(dataEnd) > len(t.memory) {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d property %d data overruns memory", entry.Number, id)
		}

		// A repeated property number has already been rejected by the
		// strictly-descending check above, so each id is recorded once.
		if !t.hasProperty(entry, id) {
			entry.properties = append(entry.properties, property{
				id:   id,
				data: append([]byte(nil), t.memory[dataStart:dataEnd]...),
			})
		}

		cursor = dataEnd
	}

	return nil
}

func (t *ObjectTable) hasProperty(entry *ObjectEntry, id uint8) bool {
	for _, p := range entry.properties {
		if p.id == id {
			return true
		}
	}
	return false
}

// decodePropertyHeader decodes the property header starting at addr,
// returning the property number, data size, and header length in bytes.
func (t *ObjectTable) decodePropertyHeader(memory []byte, addr uint32) (id uint8, size uint16, headerLen uint8, err error) {
	header := memory[addr]

	if t.version.isOld() {
		size = uint16(header>>5) + 1
		id = header & 0b1_1111
		return id, size, 1, nil
	}

	if header&0b1000_0000 != 0 {
		if int(addr)+1 >= len(memory) {
			return 0, 0, 0, zerrs.Wrapf(zerrs.CorruptStory, "property size byte truncated at 0x%x", addr)
		}
		sizeByte := memory[addr+1]
		size = uint16(sizeByte & 0b0011_1111)
		if size == 0 {
			size = 64
		}
		// §12.4.2.1.1: the property number occupies the bottom 6 bits
		// of the first size byte, not 7.
		id = header & 0b0011_1111
		return id, size, 2, nil
	}

	size = uint16((header>>6)&1) + 1
	id = header & 0b0011_1111
	return id, size, 1, nil
}

// Count returns the number of objects parsed from the table (object
// numbers 1..Count() inclusive are valid).
func (t *ObjectTable) Count() int {
	return len(t.objects) - 1
}

func (t *ObjectTable) object(num ObjectNumber) (*ObjectEntry, bool) {
	if num == noObject || int(num) >= len(t.objects) {
		return nil, false
	}
	return &t.objects[num], true
}

// GetAttribute returns the value of attribute attr on object obj. It
// returns false (never an error) if obj is 0, unknown, or attr is out of
// range, matching the Z-Machine tradition that queries never fail.
func (t *ObjectTable) GetAttribute(obj ObjectNumber, attr int) bool {
	entry, ok := t.object(obj)
	if !ok || attr < 0 || attr >= t.attrBitLen() {
		return false
	}
	byteIx := attr / 8
	bitIx := 7 - (attr % 8) // attribute 0 = MSB of byte 0
	return entry.Attributes[byteIx]&(1<<uint(bitIx)) != 0
}

// SetAttribute sets attribute attr on object obj to v.
func (t *ObjectTable) SetAttribute(obj ObjectNumber, attr int, v bool) error {
	entry, ok := t.object(obj)
	if !ok {
		return zerrs.Wrapf(zerrs.InvalidObject, "object %d does not exist", obj)
	}
	if attr < 0 || attr >= t.attrBitLen() {
		return zerrs.Wrapf(zerrs.AttrOutOfRange, "attribute %d out of range for version", attr)
	}

	byteIx := attr / 8
	bitIx := uint(7 - (attr % 8))
	if v {
		entry.Attributes[byteIx] |= 1 << bitIx
	} else {
		entry.Attributes[byteIx] &^= 1 << bitIx
	}
	return nil
}

// GetProperty returns the 16-bit value of property prop on object obj.
// Property data shorter than 2 bytes is read as a single byte
// zero-extended; data longer than 2 bytes yields its first two bytes
// (matching how the Z-Machine's get_prop opcode is defined only for
// 1- and 2-byte properties). If the property is absent, or obj is 0,
// the property default is returned.
func (t *ObjectTable) GetProperty(obj ObjectNumber, prop uint8) uint16 {
	entry, ok := t.object(obj)
	if ok {
		for _, p := range entry.properties {
			if p.id == prop {
				if len(p.data) == 1 {
					return uint16(p.data[0])
				}
				return binary.BigEndian.Uint16(p.data[:2])
			}
		}
	}
	if int(prop) < len(t.propertyDefaults) {
		return t.propertyDefaults[prop]
	}
	return 0
}

// SetProperty sets the value of property prop on object obj. Setting a
// property the object does not currently hold raises *InvalidProperty
// rather than silently creating it; the standard leaves this case
// undefined.
func (t *ObjectTable) SetProperty(obj ObjectNumber, prop uint8, value uint16) error {
	entry, ok := t.object(obj)
	if !ok {
		return zerrs.Wrapf(zerrs.InvalidObject, "object %d does not exist", obj)
	}
	for i := range entry.properties {
		p := &entry.properties[i]
		if p.id != prop {
			continue
		}
		switch len(p.data) {
		case 1:
			p.data[0] = uint8(value)
		default:
			binary.BigEndian.PutUint16(p.data[:2], value)
		}
		return nil
	}
	return zerrs.Wrapf(zerrs.InvalidProperty, "object %d has no property %d", obj, prop)
}

// NextProperty implements the Z-Machine get_next_prop opcode (§15): prop
// == 0 returns the first property number on obj (0 if it has none);
// otherwise it returns the property number immediately following prop in
// the object's descending property list (0 if prop was last).
func (t *ObjectTable) NextProperty(obj ObjectNumber, prop uint8) (uint8, error) {
	entry, ok := t.object(obj)
	if !ok {
		return 0, zerrs.Wrapf(zerrs.InvalidObject, "object %d does not exist", obj)
	}
	if prop == 0 {
		if len(entry.properties) == 0 {
			return 0, nil
		}
		return entry.properties[0].id, nil
	}
	for i, p := range entry.properties {
		if p.id == prop {
			if i+1 < len(entry.properties) {
				return entry.properties[i+1].id, nil
			}
			return 0, nil
		}
	}
	return 0, zerrs.Wrapf(zerrs.InvalidProperty, "object %d has no property %d", obj, prop)
}

// GetParent, GetChild, and GetSibling return 0 for an unknown or zero object.
func (t *ObjectTable) GetParent(obj ObjectNumber) ObjectNumber {
	entry, ok := t.object(obj)
	if !ok {
		return noObject
	}
	return entry.Parent
}

func (t *ObjectTable) GetChild(obj ObjectNumber) ObjectNumber {
	entry, ok := t.object(obj)
	if !ok {
		return noObject
	}
	return entry.Child
}

func (t *ObjectTable) GetSibling(obj ObjectNumber) ObjectNumber {
	entry, ok := t.object(obj)
	if !ok {
		return noObject
	}
	return entry.Sibling
}

// ShortName returns the opaque encoded short-name bytes at the head of
// obj's property table (not decoded here; the text subsystem renders it).
func (t *ObjectTable) ShortName(obj ObjectNumber) []byte {
	entry, ok := t.object(obj)
	if !ok {
		return nil
	}
	return entry.ShortName
}

// MoveObject detaches obj from its current parent (if any) and, if
// newParent is non-zero, prepends it to newParent's child chain,
// implementing the insert_obj opcode (§15).
func (t *ObjectTable) MoveObject(obj ObjectNumber, newParent ObjectNumber) error {
	entry, ok := t.object(obj)
	if !ok {
		return zerrs.Wrapf(zerrs.InvalidObject, "object %d does not exist", obj)
	}
	if newParent != noObject {
		if _, ok := t.object(newParent); !ok {
			return zerrs.Wrapf(zerrs.InvalidObject, "new parent %d does not exist", newParent)
		}
	}

	if entry.Parent != noObject {
		if err := t.detach(entry); err != nil {
			return err
		}
	}

	entry.Parent = noObject
	entry.Sibling = noObject

	if newParent != noObject {
		parent, _ := t.object(newParent)
		entry.Sibling = parent.Child
		parent.Child = obj
		entry.Parent = newParent
	}

	return nil
}

// detach unlinks entry from its current parent's child chain.
func (t *ObjectTable) detach(entry *ObjectEntry) error {
	parent, ok := t.object(entry.Parent)
	if !ok {
		// Parent reference is stale; nothing to unlink from.
		return nil
	}

	if parent.Child == entry.Number {
		parent.Child = entry.Sibling
		return nil
	}

	cursor := parent.Child
	visited := map[ObjectNumber]bool{}
	for cursor != noObject {
		if visited[cursor] {
			return zerrs.Wrapf(zerrs.CorruptStory, "cycle detected detaching object %d", entry.Number)
		}
		visited[cursor] = true

		curr, ok := t.object(cursor)
		if !ok {
			break
		}
		if curr.Sibling == entry.Number {
			curr.Sibling = entry.Sibling
			return nil
		}
		cursor = curr.Sibling
	}

	// Not found in its parent's child chain: the record was already
	// inconsistent before this call. Nothing more to unlink.
	return nil
}

// CheckTreeCoherence walks the full object tree and returns *CorruptStory
// on the first structural violation: every non-orphan object must be
// reached exactly once via its parent's child/sibling chain, and the
// graph must be acyclic.
func (t *ObjectTable) CheckTreeCoherence() error {
	reachedBy := make(map[ObjectNumber]ObjectNumber) // child -> parent that reached it

	for num := 1; num < len(t.objects); num++ {
		parent := ObjectNumber(num)
		entry := &t.objects[num]
		visited := map[ObjectNumber]bool{}

		cursor := entry.Child
		for cursor != noObject {
			if visited[cursor] {
				return zerrs.Wrapf(zerrs.CorruptStory, "cycle in child chain of object %d", parent)
			}
			visited[cursor] = true

			if prev, seen := reachedBy[cursor]; seen {
				return zerrs.Wrapf(zerrs.CorruptStory, "object %d reached from both %d and %d", cursor, prev, parent)
			}
			reachedBy[cursor] = parent

			child, ok := t.object(cursor)
			if !ok {
				return zerrs.Wrapf(zerrs.CorruptStory, "object %d child chain references unknown object %d", parent, cursor)
			}
			if child.Parent != parent {
				return zerrs.Wrapf(zerrs.CorruptStory, "object %d claims parent %d but found via %d's child chain", cursor, child.Parent, parent)
			}
			cursor = child.Sibling
		}
	}

	for num := 1; num < len(t.objects); num++ {
		entry := &t.objects[num]
		if entry.Parent == noObject {
			continue
		}
		if reachedBy[ObjectNumber(num)] != entry.Parent {
			return zerrs.Wrapf(zerrs.CorruptStory, "object %d claims parent %d but is not in its child chain", num, entry.Parent)
		}
	}

	return nil
}
