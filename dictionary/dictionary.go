// Package dictionary parses the Z-Machine dictionary region (§13) — a
// compressed word table used to tokenize player input — and encodes
// arbitrary text into the same 5-bit alphabet the table is keyed by
// (§3.2-3.7).
package dictionary

import (
	"encoding/binary"
	"strings"

	"github.com/davetcode/zqz/internal/zerrs"
)

// ZVersion mirrors objecttable.ZVersion; kept independent so this package
// has no dependency on objecttable.
type ZVersion uint8

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

// wordBytes returns the encoded-word length for the version: 4 bytes in
// v1-3, 6 bytes in v4+.
func (v ZVersion) wordBytes() int {
	if v.isOld() {
		return 4
	}
	return 6
}

// zcharCount returns the z-char stream length the encoded word is padded
// to before packing: 6 in v1-3, 9 in v4+.
func (v ZVersion) zcharCount() int {
	if v.isOld() {
		return 6
	}
	return 9
}

// Entry is an immutable dictionary entry: the encoded word, the absolute
// story-file address of the entry (what a tokenizer writes into the parse
// buffer), and any trailing opaque metadata bytes.
type Entry struct {
	EncodedWord []byte
	Address     uint32
	Data        []byte
}

// Dictionary owns the parsed word table and separator set. It is fully
// immutable after Load and may be shared freely across goroutines.
type Dictionary struct {
	version      ZVersion
	separators   map[byte]bool
	entryLength  int
	entries      map[string]Entry // keyed by encoded word, as a string for map use
	absoluteBase uint32
}

// Load parses a dictionary region starting at baseAddress (the absolute
// story-file address of the dictionary's first byte, used to compute
// entries' reported absolute addresses).
func Load(memory []byte, baseAddress uint32, version ZVersion) (*Dictionary, error) {
	if int(baseAddress) >= len(memory) {
		return nil, zerrs.Wrapf(zerrs.CorruptStory, "dictionary base 0x%x out of range", baseAddress)
	}

	n := int(memory[baseAddress])
	headerEnd := int(baseAddress) + 1 + n + 1 + 2
	if headerEnd > len(memory) {
		return nil, zerrs.Wrapf(zerrs.CorruptStory, "dictionary header truncated")
	}

	separators := make(map[byte]bool, n)
	for i := 0; i < n; i++ {
		separators[memory[int(baseAddress)+1+i]] = true
	}

	entryLength := int(memory[int(baseAddress)+1+n])
	entryCount := int(int16(binary.BigEndian.Uint16(memory[int(baseAddress)+1+n+1 : headerEnd])))
	if entryCount < 0 {
		entryCount = 0
	}

	wordBytes := version.wordBytes()
	if entryLength < wordBytes {
		return nil, zerrs.Wrapf(zerrs.CorruptStory, "dictionary entry length %d shorter than encoded word %d", entryLength, wordBytes)
	}

	entries := make(map[string]Entry, entryCount)
	tableStart := headerEnd
	headerSize := uint32(1 + n + 1 + 2)

	for i := 0; i < entryCount; i++ {
		entryOffset := tableStart + i*entryLength
		if entryOffset+entryLength > len(memory) {
			return nil, zerrs.Wrapf(zerrs.CorruptStory, "dictionary entry %d truncated", i)
		}
		word := append([]byte(nil), memory[entryOffset:entryOffset+wordBytes]...)
		data := append([]byte(nil), memory[entryOffset+wordBytes:entryOffset+entryLength]...)

		entries[string(word)] = Entry{
			EncodedWord: word,
			Address:     baseAddress + headerSize + uint32(i)*uint32(entryLength),
			Data:        data,
		}
	}

	return &Dictionary{
		version:      version,
		separators:   separators,
		entryLength:  entryLength,
		entries:      entries,
		absoluteBase: baseAddress,
	}, nil
}

// Lookup encodes text and returns the matching entry, or ok=false if no
// such word is in the dictionary. Lookup is case-insensitive by virtue of
// lowercase encoding.
func (d *Dictionary) Lookup(text string) (Entry, bool) {
	encoded := Encode(text, d.version)
	e, ok := d.entries[string(encoded)]
	return e, ok
}

// IsSeparator reports whether b is a dictionary word separator.
func (d *Dictionary) IsSeparator(b byte) bool {
	return d.separators[b]
}

// --- Z-character encoding (§3.2-3.7) ---

const (
	shiftA1 = 4
	shiftA2 = 5
	escape  = 6 // within A2, introduces a 10-bit ZSCII escape
	space   = 0
)

var a0 = [26]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z'}
var a1 = [26]byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z'}
var a2 = [23]byte{'\n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '-', ':'}

// a2Tail holds the two trailing A2 symbols not reachable via zchrs 7..29.
var a2Tail = [2]byte{'(', ')'}

func lookupA0(c byte) (zchr uint8, ok bool) {
	for i, ch := range a0 {
		if ch == c {
			return uint8(i + 6), true
		}
	}
	return 0, false
}

func lookupA1(c byte) (zchr uint8, ok bool) {
	for i, ch := range a1 {
		if ch == c {
			return uint8(i + 6), true
		}
	}
	return 0, false
}

func lookupA2(c byte) (zchr uint8, ok bool) {
	if c == ' ' {
		return space, true
	}
	for i, ch := range a2 {
		if ch == c {
			return uint8(i + 7), true
		}
	}
	for i, ch := range a2Tail {
		if ch == c {
			return uint8(i + 7 + len(a2)), true
		}
	}
	return 0, false
}

// Encode converts text into its dictionary-encoded form: lowercased,
// mapped to a 5-bit z-character stream through alphabets A0/A1/A2, padded
// and packed 3-per-word with the high bit of the final word set (§3.2,
// §3.7). Encode is deterministic and case-insensitive: Encode(w) always
// equals Encode(strings.ToLower(w)).
func Encode(text string, version ZVersion) []byte {
	lower := strings.ToLower(text)

	var zchars []uint8
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c == ' ' {
			zchars = append(zchars, space)
			continue
		}
		if zc, ok := lookupA0(c); ok {
			zchars = append(zchars, zc)
			continue
		}
		if zc, ok := lookupA1(c); ok {
			zchars = append(zchars, shiftA1, zc)
			continue
		}
		if zc, ok := lookupA2(c); ok {
			zchars = append(zchars, shiftA2, zc)
			continue
		}
		// Unknown character: 10-bit ZSCII escape, 5,6,high5,low5.
		zchars = append(zchars, shiftA2, escape, uint8(c>>5), uint8(c&0x1F))
	}

	want := version.zcharCount()
	if len(zchars) > want {
		zchars = zchars[:want]
	}
	for len(zchars) < want {
		zchars = append(zchars, 5) // pad with z-char 5 (§3.7.1)
	}

	out := make([]byte, 0, (want/3)*2)
	for i := 0; i < want; i += 3 {
		word := uint16(zchars[i]&0x1F)<<10 | uint16(zchars[i+1]&0x1F)<<5 | uint16(zchars[i+2]&0x1F)
		if i+3 >= want {
			word |= 0x8000
		}
		out = append(out, byte(word>>8), byte(word))
	}
	return out
}
