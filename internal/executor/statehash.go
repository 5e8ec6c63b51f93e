// Package executor reduces a task plus its prior state to a completed
// execution record by driving the GroundedSearch port.
package executor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalize recursively sorts JSON object keys and re-encodes with
// encoding/json's default (already whitespace-free) compact form, so two
// JSON documents describing the same facts in a different key order hash
// identically. There is no third-party canonical-JSON library in the
// retrieved pack; this stays on the standard library by design (see
// DESIGN.md).
func canonicalize(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonicalMarshal(v)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

// stateHash returns the hex-encoded sha256 of raw's canonical form. Two
// states with the same facts but different key ordering or whitespace
// produce the same hash.
func stateHash(raw []byte) (string, error) {
	canon, err := canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// statesEqual reports whether a and b are the same facts up to key
// ordering and whitespace, used as the executor's fast path before calling
// GroundedSearch.CompareStates.
func statesEqual(a, b []byte) (bool, error) {
	hashA, err := stateHash(a)
	if err != nil {
		return false, err
	}
	hashB, err := stateHash(b)
	if err != nil {
		return false, err
	}
	return hashA == hashB, nil
}
