// Package canonical provides a deterministic JSON serialization and the
// SHA-256 helpers built on top of it. Every content-addressed identifier in
// the engine (evidence atom IDs, proposal content hashes, trace entry
// hashes) is derived from this encoding, so hash computation stays a pure
// function that can be tested without a database.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Marshal encodes v as canonical JSON: object keys sorted, no HTML escaping,
// no insignificant whitespace, times in RFC 3339 UTC. Two values that are
// semantically equal always produce byte-identical output.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashHex returns the lowercase hex SHA-256 of the canonical encoding of v.
func HashHex(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SumHex hashes raw byte segments in order, with a length prefix per
// segment so that ("ab","c") and ("a","bc") cannot collide.
func SumHex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		var lenBuf [8]byte
		n := len(p)
		for i := 7; i >= 0; i-- {
			lenBuf[i] = byte(n)
			n >>= 8
		}
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encode(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, x)
	case json.Number:
		buf.WriteString(string(x))
	case float64:
		return encodeFloat(buf, x)
	case float32:
		return encodeFloat(buf, float64(x))
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
	case time.Time:
		return encodeString(buf, x.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if x == nil {
			buf.WriteString("null")
			return nil
		}
		return encodeString(buf, x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return encodeString(buf, hex.EncodeToString(x))
	case map[string]any:
		return encodeMap(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// Fall back through encoding/json for struct types, then re-encode
		// the generic form so key ordering is canonical.
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "canonical: marshal")
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return eris.Wrap(err, "canonical: decode intermediate")
		}
		return encode(buf, generic)
	}
	return nil
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return eris.Wrap(err, "canonical: encode string")
	}
	// json.Encoder appends a newline; strip it.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return eris.New(fmt.Sprintf("canonical: unsupported float value %v", f))
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
