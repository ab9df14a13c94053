package corelist

import (
	"fmt"
)

// wire frames for the feed protocol. Payloads and metadata travel as
// opaque strings so that the engine never interprets application content.
// The wire form does not distinguish an empty string from an absent value,
// an empty payload or metadata string decodes as nil.

type ElementFrame struct {
	ElementId Id     `json:"element_id"`
	Payload   string `json:"payload,omitempty"`
}

type SectionFrame struct {
	SectionId Id             `json:"section_id"`
	Metadata  string         `json:"metadata,omitempty"`
	Elements  []ElementFrame `json:"elements"`
}

type SnapshotFrame struct {
	Sections []SectionFrame `json:"sections"`
}

func NewSnapshotFrame(snapshot Snapshot) *SnapshotFrame {
	sectionFrames := []SectionFrame{}
	for _, section := range snapshot.Sections() {
		elementFrames := []ElementFrame{}
		for _, element := range section.Elements {
			elementFrames = append(elementFrames, ElementFrame{
				ElementId: element.Id,
				Payload:   payloadString(element.Payload),
			})
		}
		sectionFrames = append(sectionFrames, SectionFrame{
			SectionId: section.Id,
			Metadata:  payloadString(section.Metadata),
			Elements:  elementFrames,
		})
	}
	return &SnapshotFrame{
		Sections: sectionFrames,
	}
}

func (self *SnapshotFrame) ToSnapshot() (Snapshot, error) {
	sections := []Section{}
	for _, sectionFrame := range self.Sections {
		elements := []Element{}
		for _, elementFrame := range sectionFrame.Elements {
			elements = append(elements, Element{
				Id:      elementFrame.ElementId,
				Payload: elementFrame.Payload,
			})
		}
		sections = append(sections, Section{
			Id:       sectionFrame.SectionId,
			Metadata: sectionFrame.Metadata,
			Elements: elements,
		})
	}
	return NewSnapshot(sections)
}

type DeltaFrame struct {
	Kind DeltaKind `json:"kind"`

	SectionIndex    int `json:"section_index"`
	ElementIndex    int `json:"element_index"`
	NewSectionIndex int `json:"new_section_index"`
	NewElementIndex int `json:"new_element_index"`

	Id       *Id    `json:"id,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

func NewDeltaFrame(delta Delta) *DeltaFrame {
	frame := &DeltaFrame{
		Kind:            delta.Kind,
		SectionIndex:    delta.SectionIndex,
		ElementIndex:    delta.ElementIndex,
		NewSectionIndex: delta.NewSectionIndex,
		NewElementIndex: delta.NewElementIndex,
		Payload:         payloadString(delta.Payload),
		Metadata:        payloadString(delta.Metadata),
	}
	if (delta.Id != Id{}) {
		id := delta.Id
		frame.Id = &id
	}
	return frame
}

func (self *DeltaFrame) ToDelta() (Delta, error) {
	switch self.Kind {
	case DeltaInsert, DeltaDelete, DeltaMove, DeltaUpdate:
	default:
		return Delta{}, fmt.Errorf("unknown delta kind: %s", self.Kind)
	}
	delta := Delta{
		Kind:            self.Kind,
		SectionIndex:    self.SectionIndex,
		ElementIndex:    self.ElementIndex,
		NewSectionIndex: self.NewSectionIndex,
		NewElementIndex: self.NewElementIndex,
	}
	if self.Id != nil {
		delta.Id = *self.Id
	}
	// empty means absent on the wire
	if self.Payload != "" {
		delta.Payload = self.Payload
	}
	if self.Metadata != "" {
		delta.Metadata = self.Metadata
	}
	return delta, nil
}

type FeedFrameType string

const (
	FeedFrameBegin      FeedFrameType = "begin"
	FeedFrameEvent      FeedFrameType = "event"
	FeedFrameCommit     FeedFrameType = "commit"
	FeedFrameInvalidate FeedFrameType = "invalidate"
	FeedFrameSnapshot   FeedFrameType = "snapshot"
)

// one message of the feed protocol. A transaction is a `begin`, zero or
// more `event` or `invalidate` frames, then a `commit`. `snapshot` resets
// the base state outside any transaction.
type FeedFrame struct {
	Type     FeedFrameType  `json:"type"`
	Event    *DeltaFrame    `json:"event,omitempty"`
	Snapshot *SnapshotFrame `json:"snapshot,omitempty"`
}

func payloadString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
