package core

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AttributeKind discriminates the typed payload of an AttributeValue.
type AttributeKind string

const (
	KindString    AttributeKind = "string"
	KindInteger   AttributeKind = "integer"
	KindLong      AttributeKind = "long"
	KindBoolean   AttributeKind = "boolean"
	KindDateTime  AttributeKind = "datetime"
	KindBinary    AttributeKind = "binary"
	KindReference AttributeKind = "reference"
)

func (k AttributeKind) IsValid() bool {
	switch k {
	case KindString, KindInteger, KindLong, KindBoolean, KindDateTime, KindBinary, KindReference:
		return true
	}
	return false
}

// AttributeValue is one typed value of a named attribute. Multi-valued
// attributes are represented as repeated entries with the same Name; set
// semantics are enforced by the flow evaluator and planner through
// ValueKey. Reference values carry the target metaverse object id until
// export resolution substitutes the target's external id.
type AttributeValue struct {
	Name        string        `json:"name"`
	Kind        AttributeKind `json:"kind"`
	StringValue string        `json:"string_value,omitempty"`
	IntValue    int64         `json:"int_value,omitempty"`
	BoolValue   bool          `json:"bool_value,omitempty"`
	TimeValue   time.Time     `json:"time_value,omitzero"`
	BinaryValue []byte        `json:"binary_value,omitempty"`
	ReferenceID string        `json:"reference_id,omitempty"`
}

func StringAttr(name, value string) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindString, StringValue: value}
}

func IntAttr(name string, value int64) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindInteger, IntValue: value}
}

func LongAttr(name string, value int64) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindLong, IntValue: value}
}

func BoolAttr(name string, value bool) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindBoolean, BoolValue: value}
}

func DateTimeAttr(name string, value time.Time) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindDateTime, TimeValue: value.UTC()}
}

func BinaryAttr(name string, value []byte) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindBinary, BinaryValue: append([]byte(nil), value...)}
}

func ReferenceAttr(name, targetMVOID string) AttributeValue {
	return AttributeValue{Name: strings.TrimSpace(name), Kind: KindReference, ReferenceID: strings.TrimSpace(targetMVOID)}
}

// IsNull reports whether the value carries no payload for its kind. Null
// values never win a mapping evaluation.
func (v AttributeValue) IsNull() bool {
	switch v.Kind {
	case KindString:
		return v.StringValue == ""
	case KindInteger, KindLong, KindBoolean:
		return false
	case KindDateTime:
		return v.TimeValue.IsZero()
	case KindBinary:
		return len(v.BinaryValue) == 0
	case KindReference:
		return v.ReferenceID == ""
	default:
		return true
	}
}

// ValueKey returns a canonical comparison key for set semantics. Two
// values with equal keys are the same member of a multi-valued set.
func (v AttributeValue) ValueKey() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.StringValue
	case KindInteger:
		return "i:" + strconv.FormatInt(v.IntValue, 10)
	case KindLong:
		return "l:" + strconv.FormatInt(v.IntValue, 10)
	case KindBoolean:
		return "b:" + strconv.FormatBool(v.BoolValue)
	case KindDateTime:
		return "t:" + v.TimeValue.UTC().Format(time.RFC3339Nano)
	case KindBinary:
		return "x:" + base64.StdEncoding.EncodeToString(v.BinaryValue)
	case KindReference:
		return "r:" + v.ReferenceID
	default:
		return ""
	}
}

// Equal compares two values by kind and payload, ignoring Name.
func (v AttributeValue) Equal(other AttributeValue) bool {
	return v.Kind == other.Kind && v.ValueKey() == other.ValueKey()
}

// Interface returns the Go-native payload, used by the expression
// evaluator environment.
func (v AttributeValue) Interface() any {
	switch v.Kind {
	case KindString:
		return v.StringValue
	case KindInteger, KindLong:
		return v.IntValue
	case KindBoolean:
		return v.BoolValue
	case KindDateTime:
		return v.TimeValue
	case KindBinary:
		return append([]byte(nil), v.BinaryValue...)
	case KindReference:
		return v.ReferenceID
	default:
		return nil
	}
}

func (v AttributeValue) String() string {
	return fmt.Sprintf("%s(%s)=%s", v.Name, v.Kind, v.ValueKey())
}

// GroupAttributes indexes values by attribute name, preserving order
// within each name.
func GroupAttributes(values []AttributeValue) map[string][]AttributeValue {
	grouped := make(map[string][]AttributeValue, len(values))
	for _, value := range values {
		name := strings.TrimSpace(value.Name)
		if name == "" {
			continue
		}
		value.Name = name
		grouped[name] = append(grouped[name], value)
	}
	return grouped
}

// DedupeValues applies set semantics to a value slice: duplicates by
// ValueKey are dropped, first occurrence wins.
func DedupeValues(values []AttributeValue) []AttributeValue {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]AttributeValue, 0, len(values))
	for _, value := range values {
		if value.IsNull() {
			continue
		}
		key := value.ValueKey()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}

// SameValueSet reports whether two value slices are equal as sets.
func SameValueSet(left, right []AttributeValue) bool {
	leftKeys := valueKeySet(left)
	rightKeys := valueKeySet(right)
	if len(leftKeys) != len(rightKeys) {
		return false
	}
	for key := range leftKeys {
		if _, ok := rightKeys[key]; !ok {
			return false
		}
	}
	return true
}

func valueKeySet(values []AttributeValue) map[string]struct{} {
	keys := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value.IsNull() {
			continue
		}
		keys[value.ValueKey()] = struct{}{}
	}
	return keys
}

// SortedAttributeNames returns the union of attribute names across both
// slices in deterministic order.
func SortedAttributeNames(groups ...map[string][]AttributeValue) []string {
	seen := map[string]struct{}{}
	for _, group := range groups {
		for name := range group {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
