// Package zerrs defines the closed set of error kinds raised by the
// object table, dictionary, and Quetzal packages. Callers distinguish
// kinds with errors.Is; detail is attached with errors.Wrapf.
package zerrs

import "github.com/cockroachdb/errors"

var (
	// CorruptStory is raised on structural violations found while loading
	// a story-file region: truncation, an invalid property number, a
	// property-table address out of range, or a cycle discovered while
	// walking the object tree.
	CorruptStory = errors.New("corrupt story file")

	// InvalidObject is raised when a mutator is given a non-zero object
	// number that does not exist.
	InvalidObject = errors.New("invalid object")

	// InvalidProperty is raised when a mutator targets a property number
	// the object does not currently hold.
	InvalidProperty = errors.New("invalid property")

	// AttrOutOfRange is raised when an attribute number falls outside the
	// range the loaded story version supports.
	AttrOutOfRange = errors.New("attribute out of range")

	// QuetzalInvalidFormat is raised on IFF parse failure: bad tag, bad
	// length, or a FORM type other than IFZS.
	QuetzalInvalidFormat = errors.New("invalid quetzal container")

	// QuetzalMissingChunk is raised when a required chunk (IFhd, a memory
	// chunk, or Stks) is absent.
	QuetzalMissingChunk = errors.New("missing required quetzal chunk")

	// QuetzalCorrupted is raised on an internal chunk parse failure: a bad
	// frame count or an XOR-delta run that overruns the buffer.
	QuetzalCorrupted = errors.New("corrupted quetzal chunk")

	// IncompatibleSave is raised when a save's identification does not
	// match the currently loaded story.
	IncompatibleSave = errors.New("incompatible save file")
)

// Wrapf attaches formatted detail to a sentinel kind, preserving
// errors.Is(err, kind).
func Wrapf(kind error, format string, args ...any) error {
	return errors.Wrapf(kind, format, args...)
}
