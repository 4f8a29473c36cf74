package exchange

import "encoding/json"

// remarshal round-trips v through JSON into out, used to decode a loosely
// typed map[string]any field (already unmarshaled by resty) into a
// concrete struct without a second HTTP round trip.
func remarshal(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// marshalCompact JSON-encodes v, used to build the pre-hash body string for
// request signing before the same value is also passed to resty as the body.
func marshalCompact(v any) ([]byte, error) {
	return json.Marshal(v)
}
