package engine

import (
	"encoding/json"

	"github.com/nounverb/nvdb/pkg/model"
)

// cachedNoun carries the fields model.Noun itself excludes from its JSON
// encoding (NounType/Metadata live in the storage adapter's sidecar
// record), so a cache hit returns exactly what a storage read would.
type cachedNoun struct {
	model.Noun
	Metadata model.Metadata `json:"metadata,omitempty"`
}

func encodeNoun(n *model.Noun) ([]byte, error) {
	return json.Marshal(cachedNoun{Noun: *n, Metadata: n.Metadata})
}

func decodeNoun(blob []byte) (*model.Noun, error) {
	var c cachedNoun
	if err := json.Unmarshal(blob, &c); err != nil {
		return nil, err
	}
	n := c.Noun
	n.Metadata = c.Metadata
	n.NounType = c.Metadata.NounType()
	return &n, nil
}
