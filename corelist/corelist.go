package corelist

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

/*
Incremental list reconciliation with properties:
- diffs between two sectioned snapshots are minimal, not full reloads
- operations within one applied batch never conflict
- a batch is applied atomically with its backing data substitution
- apply requests are safe from any goroutine and applied in submission order

The data flow is: upstream delta feed -> Normalizer -> Snapshot ->
Dispatcher -> Diff -> StagedChangeset -> Target.
*/

// comparable
// stable opaque key identifying one logical record across content mutations
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func RequireIdFromBytes(idBytes []byte) Id {
	id, err := IdFromBytes(idBytes)
	if err != nil {
		panic(err)
	}
	return id
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self Id) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("\"%s\"", encodeUuid(self))), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// comparable
// a position in a sectioned list: section index plus element offset
type Path struct {
	Section int
	Element int
}

func (self Path) Before(other Path) bool {
	if self.Section != other.Section {
		return self.Section < other.Section
	}
	return self.Element < other.Element
}

func (self Path) String() string {
	return fmt.Sprintf("[%d-%d]", self.Section, self.Element)
}
