package sequence

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SchemaVersion is the current serialization version. Field names stay
// stable across versions; readers ignore unknown fields so templates and
// saved plans remain loadable after the taxonomy grows.
const SchemaVersion = 2

// persistedSequence is the versioned storage envelope
type persistedSequence struct {
	SchemaVersion int `json:"schemaVersion"`
	Sequence
}

// EncodeDocument serializes the sequence into its versioned JSON form
func EncodeDocument(s *Sequence) ([]byte, error) {
	doc := persistedSequence{
		SchemaVersion: SchemaVersion,
		Sequence:      *s,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode sequence %s: %w", s.ID, err)
	}
	return data, nil
}

// DecodeDocument deserializes a versioned sequence document. Documents
// written by older schema versions load normally; fields they lack take
// zero values, fields they carry that we no longer know are ignored.
func DecodeDocument(data []byte) (*Sequence, error) {
	var doc persistedSequence
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode sequence document: %w", err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("sequence document schema version %d is newer than supported %d",
			doc.SchemaVersion, SchemaVersion)
	}

	seq := doc.Sequence
	if seq.Nodes == nil {
		seq.Nodes = make(map[uuid.UUID]*Node)
	}
	return &seq, nil
}
