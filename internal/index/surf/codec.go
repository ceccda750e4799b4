package surf

import "encoding/json"

// MarshalJSON serializes the trie including its child-range index, so a
// loaded ZoneSurfEntry (§3.5 `.zsrf`) needs no rebuild pass.
func (t *Trie) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

func (t *Trie) UnmarshalJSON(data []byte) error {
	var w wireTrie
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = *fromWire(w)
	return nil
}
