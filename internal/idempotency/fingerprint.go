package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// canonicalRequest fixes field order; map keys are sorted by encoding/json.
type canonicalRequest struct {
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Body   any                 `json:"body"`
	Params map[string]string   `json:"params"`
	Query  map[string][]string `json:"query"`
}

// Fingerprint returns the hex SHA-256 of the canonical JSON form of req.
// Strings are NFC normalized, object keys sorted, HTML escaping disabled, and nil
// params/query are treated as empty, so logically equal requests hash equally.
func Fingerprint(req Request) (string, error) {
	payload, err := CanonicalJSON(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON is the serialization hashed by Fingerprint.
func CanonicalJSON(req Request) ([]byte, error) {
	body, err := normalize(req.Body)
	if err != nil {
		return nil, fmt.Errorf("normalize body: %w", err)
	}

	params := make(map[string]string, len(req.Params))
	for k, v := range req.Params {
		params[norm.NFC.String(k)] = norm.NFC.String(v)
	}

	query := make(map[string][]string, len(req.Query))
	for k, vs := range req.Query {
		normalized := make([]string, len(vs))
		for i, v := range vs {
			normalized[i] = norm.NFC.String(v)
		}
		query[norm.NFC.String(k)] = normalized
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalRequest{
		Method: req.Method,
		Path:   norm.NFC.String(req.Path),
		Body:   body,
		Params: params,
		Query:  query,
	}); err != nil {
		return nil, fmt.Errorf("encode canonical request: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize walks a decoded JSON value, NFC-normalizing strings and object keys.
// Keys that collide after normalization are rejected rather than silently merged.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, json.Number, float64, float32, int, int64, int32:
		return val, nil
	case string:
		return norm.NFC.String(val), nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			nk := norm.NFC.String(k)
			if _, dup := out[nk]; dup {
				return nil, fmt.Errorf("duplicate key %q after normalization", nk)
			}
			n, err := normalize(val[k])
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[nk] = n
		}
		return out, nil
	default:
		// Arbitrary Go values go through a JSON round trip so they hash like their wire form.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		return normalize(generic)
	}
}
