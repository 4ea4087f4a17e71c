package signing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// canonicalJSON renders fields as a JSON object with sorted keys, using the
// same layout as Python's json.dumps(sort_keys=True): ", " and ": "
// separators and every non-printable-ASCII character escaped as \uXXXX.
// Signatures and cache keys already issued by the deployed service depend
// on this exact byte layout.
func canonicalJSON(fields map[string]any) string {
	var b strings.Builder
	writeObject(&b, fields)
	return b.String()
}

func writeObject(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeString(b, k)
		b.WriteString(": ")
		writeValue(b, m[k])
	}
	b.WriteByte('}')
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		writeString(b, val)
	case *string:
		if val == nil {
			b.WriteString("null")
			return
		}
		writeString(b, *val)
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case *int:
		if val == nil {
			b.WriteString("null")
			return
		}
		b.WriteString(strconv.Itoa(*val))
	case []int:
		b.WriteByte('[')
		for i, n := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(n))
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			writeString(b, s)
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		writeObject(b, val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			writeString(b, fmt.Sprint(val))
			return
		}
		b.Write(raw)
	}
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				b.WriteRune(r)
			case r < 0x10000:
				fmt.Fprintf(b, `\u%04x`, r)
			default:
				r -= 0x10000
				fmt.Fprintf(b, `\u%04x\u%04x`, 0xd800|(r>>10)&0x3ff, 0xdc00|r&0x3ff)
			}
		}
	}
	b.WriteByte('"')
}
