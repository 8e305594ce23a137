package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document represents one record returned by the report query
type Document map[string]interface{}

// FromD builds a Document from an ordered BSON document
func FromD(d bson.D) Document {
	doc := make(Document, len(d))
	for _, e := range d {
		doc[e.Key] = e.Value
	}
	return doc
}

// Field returns the string form of a field, or "" if the field is absent
func (d Document) Field(name string) string {
	v, ok := d[name]
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Values returns the string form of each column, in column order
func (d Document) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = d.Field(col)
	}
	return out
}

// Stringify converts a decoded BSON value to the text shown in a report.
// Null renders as the empty string, same as an absent field.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case primitive.Null, primitive.Undefined:
		return ""
	case string:
		return val
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case bool:
		return strconv.FormatBool(val)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return val.String()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339)
	case primitive.Binary:
		return fmt.Sprintf("%x", val.Data)
	case primitive.Regex:
		return "/" + val.Pattern + "/" + val.Options
	case primitive.A:
		return stringifyArray(val)
	case []interface{}:
		return stringifyArray(val)
	case primitive.M:
		return stringifyDoc(val)
	case map[string]interface{}:
		return stringifyDoc(val)
	case primitive.D:
		return stringifyDoc(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatFloat uses the shortest round-trip digits, switching to exponent
// form below 1e-4 and from 1e16 up; integral values keep a ".0" suffix
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	sci := strconv.FormatFloat(f, 'e', -1, bitSize)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && f != 0 && (exp < -4 || exp >= 16) {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func stringifyArray(items []interface{}) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Stringify(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// stringifyDoc renders embedded documents as relaxed extended JSON
func stringifyDoc(doc interface{}) string {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Sprintf("%v", doc)
	}
	return string(data)
}
