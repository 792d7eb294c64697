package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// Canonical encodes v as compact JSON with object keys sorted at every depth
// and no HTML escaping. Two values with the same logical content produce the
// same bytes regardless of map insertion order.
func Canonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// checkUTF8 returns an error naming the first string or map key in v that is
// not valid UTF-8. encoding/json replaces such bytes with U+FFFD, which would
// give distinct values the same canonical form. v must already be known to
// encode, so it holds no cycles.
func checkUTF8(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkUTF8(v.Elem(), path)
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%s is not valid UTF-8", path)
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key()
			if key.Kind() == reflect.String && !utf8.ValidString(key.String()) {
				return fmt.Errorf("key %q in %s is not valid UTF-8", key.String(), path)
			}
			if err := checkUTF8(iter.Value(), fmt.Sprintf("%s.%v", path, key.Interface())); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		// Byte slices encode as base64 and cannot collide.
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := checkUTF8(v.Field(i), path+"."+v.Type().Field(i).Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Digest returns the hex SHA-256 of a canonical form.
func Digest(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// decodeGeneric parses canonical JSON back into the generic shapes
// (map[string]interface{}, []interface{}, string, json.Number, bool, nil).
func decodeGeneric(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Metadata is the open-ended key/value mapping attached to a patch. It is
// opaque to ingestion; the only requirement is that it is representable in
// canonical JSON.
//
// Round trip: DecodeMetadata(m.Encode()) equals m with every number held as a
// json.Number, and m.Encode() of a decoded value reproduces the same bytes.
type Metadata map[string]interface{}

// Encode returns the canonical JSON form of the mapping. A nil mapping
// encodes as JSON null.
func (m Metadata) Encode() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := Canonical(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("metadata is not serializable: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses an encoded mapping. JSON null decodes to nil.
func DecodeMetadata(data []byte) (Metadata, error) {
	v, err := decodeGeneric(data)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata encoding: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("metadata must be a JSON object, got %T", v)
	}
	return Metadata(m), nil
}
