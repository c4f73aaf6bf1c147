package quetzal

import (
	"encoding/binary"

	"github.com/davetcode/zqz/internal/zerrs"
)

const (
	tagFORM = "FORM"
	tagIFZS = "IFZS"
	tagIFhd = "IFhd"
	tagCMem = "CMem"
	tagUMem = "UMem"
	tagStks = "Stks"
	tagIntD = "IntD"
)

type chunk struct {
	tag  string
	data []byte
}

func writeChunk(tag string, data []byte) []byte {
	out := make([]byte, 0, 8+len(data)+1)
	out = append(out, []byte(tag)...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	out = append(out, lenBuf[:]...)
	out = append(out, data...)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func readChunks(data []byte) ([]chunk, error) {
	var chunks []chunk
	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, zerrs.Wrapf(zerrs.QuetzalInvalidFormat, "truncated chunk header at offset %d", offset)
		}
		tag := string(data[offset : offset+4])
		length := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if offset+int(length) > len(data) {
			return nil, zerrs.Wrapf(zerrs.QuetzalInvalidFormat, "chunk %q length %d overruns container", tag, length)
		}
		chunks = append(chunks, chunk{tag: tag, data: data[offset : offset+int(length)]})
		offset += int(length)
		if length%2 == 1 {
			offset++ // skip pad byte
		}
	}
	return chunks, nil
}

// Write serializes a SaveState into the IFF FORM/IFZS container: IFhd,
// CMem, Stks, and (if present) IntD, in that order. Quetzal readers must
// accept any chunk order; Write always emits this canonical order.
func Write(state SaveState) []byte {
	var body []byte
	body = append(body, []byte(tagIFZS)...)

	body = append(body, writeChunk(tagIFhd, encodeIFhd(state.Identification, state.ProgramCounter))...)
	body = append(body, writeChunk(tagCMem, state.CompressedMemory)...)
	body = append(body, writeChunk(tagStks, encodeStack(state.Stack))...)
	if state.InterpreterData != nil {
		body = append(body, writeChunk(tagIntD, state.InterpreterData)...)
	}

	out := make([]byte, 0, 8+len(body))
	out = append(out, []byte(tagFORM)...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// Read parses an IFF FORM/IFZS container into a SaveState. Chunk order is
// not significant and unknown chunks are skipped without error. orig is
// the pristine dynamic-memory baseline; it is required only if the
// container carries an uncompressed UMem chunk instead of CMem, in which
// case Read XOR-deltas it against orig to populate CompressedMemory so
// the resulting SaveState has the same shape regardless of which wire
// variant was present.
func Read(data []byte, orig []byte) (SaveState, error) {
	if len(data) < 12 || string(data[0:4]) != tagFORM {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalInvalidFormat, "missing FORM header")
	}
	formLen := binary.BigEndian.Uint32(data[4:8])
	if int(formLen)+8 > len(data) {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalInvalidFormat, "FORM length %d overruns input", formLen)
	}
	if string(data[8:12]) != tagIFZS {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalInvalidFormat, "FORM type %q is not IFZS", data[8:12])
	}

	chunks, err := readChunks(data[12 : 8+formLen])
	if err != nil {
		return SaveState{}, err
	}

	var state SaveState
	var haveIDh, haveMem, haveStks bool
	var rawUMem []byte

	for _, c := range chunks {
		switch c.tag {
		case tagIFhd:
			id, pc, err := decodeIFhd(c.data)
			if err != nil {
				return SaveState{}, err
			}
			state.Identification = id
			state.ProgramCounter = pc
			haveIDh = true
		case tagCMem:
			state.CompressedMemory = append([]byte(nil), c.data...)
			haveMem = true
		case tagUMem:
			rawUMem = append([]byte(nil), c.data...)
			haveMem = true
		case tagStks:
			stack, err := decodeStack(c.data)
			if err != nil {
				return SaveState{}, err
			}
			state.Stack = stack
			haveStks = true
		case tagIntD:
			state.InterpreterData = append([]byte(nil), c.data...)
		default:
			// Unrecognized chunk type: skipped without error.
		}
	}

	if !haveIDh {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalMissingChunk, "missing IFhd chunk")
	}
	if !haveMem {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalMissingChunk, "missing CMem/UMem chunk")
	}
	if !haveStks {
		return SaveState{}, zerrs.Wrapf(zerrs.QuetzalMissingChunk, "missing Stks chunk")
	}

	if rawUMem != nil {
		if orig == nil || len(orig) != len(rawUMem) {
			return SaveState{}, zerrs.Wrapf(zerrs.QuetzalCorrupted, "UMem chunk present but no matching baseline memory supplied")
		}
		compressed, err := CompressMemory(orig, rawUMem)
		if err != nil {
			return SaveState{}, err
		}
		state.CompressedMemory = compressed
	}

	return state, nil
}

func encodeIFhd(id Identification, pc uint32) []byte {
	out := make([]byte, 13)
	binary.BigEndian.PutUint16(out[0:2], id.Release)
	copy(out[2:8], id.Serial[:])
	binary.BigEndian.PutUint16(out[8:10], id.Checksum)
	out[10] = byte(pc >> 16)
	out[11] = byte(pc >> 8)
	out[12] = byte(pc)
	return out
}

func decodeIFhd(data []byte) (Identification, uint32, error) {
	if len(data) < 13 {
		return Identification{}, 0, zerrs.Wrapf(zerrs.QuetzalCorrupted, "IFhd chunk too short (%d bytes)", len(data))
	}
	var id Identification
	id.Release = binary.BigEndian.Uint16(data[0:2])
	copy(id.Serial[:], data[2:8])
	id.Checksum = binary.BigEndian.Uint16(data[8:10])
	pc := uint32(data[10])<<16 | uint32(data[11])<<8 | uint32(data[12])
	id.InitialPC = pc
	return id, pc, nil
}

// CheckIdentity reports *IncompatibleSave if saved does not match the
// currently loaded story's identity.
func CheckIdentity(saved Identification, current Identification) error {
	if saved.Release != current.Release || saved.Serial != current.Serial ||
		saved.Checksum != current.Checksum || saved.InitialPC != current.InitialPC {
		return zerrs.Wrapf(zerrs.IncompatibleSave, "save identity %+v does not match loaded story %+v", saved, current)
	}
	return nil
}
