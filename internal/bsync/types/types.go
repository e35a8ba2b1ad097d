package types

import "time"

// Kind discriminates the entity variants exchanged between agent and collector.
type Kind uint8

const (
	KindFolder Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindFolder || k == KindFile
}

// Entity describes a folder or a file under a configured root.
//
// `cbor:"..."` tags drive both the wire codec and the snapshot file. LocalPath is
// the agent-side key and never leaves the machine; Content is only populated
// while an entity is in flight.
type Entity struct {
	Kind         Kind      `cbor:"1,keyasint"`
	Name         string    `cbor:"2,keyasint"`
	LocalPath    string    `cbor:"-"`
	RelativePath string    `cbor:"3,keyasint"` // slash separated, "." for the root itself
	CreatedAt    time.Time `cbor:"4,keyasint"`
	ModifiedAt   time.Time `cbor:"5,keyasint"`
	Deleted      bool      `cbor:"6,keyasint,omitempty"`
	ClientID     string    `cbor:"7,keyasint"`
	RootLabel    string    `cbor:"8,keyasint"`
	Size         int64     `cbor:"9,keyasint,omitempty"`
	Digest       string    `cbor:"10,keyasint,omitempty"`
	Content      []byte    `cbor:"11,keyasint,omitempty"`
}

// IsFolder reports whether the entity is a folder.
func (e Entity) IsFolder() bool { return e.Kind == KindFolder }

// IsFile reports whether the entity is a file.
func (e Entity) IsFile() bool { return e.Kind == KindFile }

// Metadata returns a copy of the entity without its content. This is what the
// agent keeps in its snapshot after a send is acknowledged.
func (e Entity) Metadata() Entity {
	e.Content = nil
	return e
}

// Tombstone returns a deletion marker for the entity. A tombstone carries no
// content.
func (e Entity) Tombstone() Entity {
	e.Content = nil
	e.Deleted = true
	return e
}

// DisplayPath is the root-qualified path used in logs, e.g. "docs/a.txt".
func (e Entity) DisplayPath() string {
	if e.RelativePath == "" || e.RelativePath == "." {
		return e.RootLabel
	}
	return e.RootLabel + "/" + e.RelativePath
}

// AckStatus is the collector's verdict on a single message.
type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckError   AckStatus = "error"
)

// Ack is the JSON reply sent by the collector after every message.
type Ack struct {
	Status AckStatus `json:"status"`
}

// OK reports whether the ack signals success.
func (a Ack) OK() bool { return a.Status == AckSuccess }
