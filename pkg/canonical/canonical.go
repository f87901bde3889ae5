// Package canonical produces a stable byte representation of JSON-like
// parameter trees, and the input hash derived from it.
package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Marshal renders v as canonical JSON: object keys sorted, numbers in their
// shortest round-trippable form, no insignificant whitespace. Two trees that
// compare equal after JSON normalization produce identical bytes.
func Marshal(v any) ([]byte, error) {
	var sb strings.Builder
	if err := writeValue(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// Hash computes the 64-bit input hash over the canonical form of v,
// rendered as 16 lowercase hex characters.
func Hash(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

func writeValue(sb *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if x {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		return writeString(sb, x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return writeFloat(sb, f)
	case float64:
		return writeFloat(sb, x)
	case float32:
		return writeFloat(sb, float64(x))
	case int:
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case uint:
		sb.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(x, 10))
	case map[string]any:
		return writeObject(sb, x)
	case []any:
		sb.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeValue(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		// Structs, typed maps and slices: normalize through encoding/json
		// once, then re-canonicalize the generic tree.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to normalize value: %w", err)
		}
		var generic any
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("failed to normalize value: %w", err)
		}
		return writeValue(sb, generic)
	}
	return nil
}

func writeObject(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := writeString(sb, k); err != nil {
			return err
		}
		sb.WriteByte(':')
		if err := writeValue(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeString(sb *strings.Builder, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	sb.Write(data)
	return nil
}

// writeFloat renders integral floats below 1e15 in magnitude without a
// fractional part or exponent, and everything else in the shortest form that
// round-trips, which may carry an exponent.
func writeFloat(sb *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v is not representable", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
