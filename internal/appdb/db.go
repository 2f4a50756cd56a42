package appdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/xiaq/persistent/hash"
	"github.com/xiaq/persistent/hashmap"
)

func keyEqual(a, b any) bool {
	return a.(string) == b.(string)
}

func keyHash(k any) uint32 {
	return hash.String(k.(string))
}

var empty = hashmap.New(keyEqual, keyHash)

// DB is an immutable map from string keys to arbitrary values.
// The zero value is an empty DB.
type DB struct {
	m hashmap.Map
}

// Empty returns an empty DB.
func Empty() DB {
	return DB{m: empty}
}

// FromMap builds a DB holding the entries of m.
func FromMap(m map[string]any) DB {
	db := Empty()
	for k, v := range m {
		db = db.Set(k, v)
	}
	return db
}

func (db DB) raw() hashmap.Map {
	if db.m == nil {
		return empty
	}
	return db.m
}

// Len returns the number of keys.
func (db DB) Len() int {
	return db.raw().Len()
}

// Get returns the value stored under key.
func (db DB) Get(key string) (any, bool) {
	return db.raw().Index(key)
}

// Index implements engine.Indexer. Keys must be strings or string-kinded
// (such as engine.ID); anything else is absent.
func (db DB) Index(k any) (any, bool) {
	key, ok := asKey(k)
	if !ok {
		return nil, false
	}
	return db.Get(key)
}

// Int returns the value under key as an int. JSON and YAML numbers are
// accepted as long as they hold a whole number.
func (db DB) Int(key string) (int, bool) {
	v, ok := db.Get(key)
	if !ok {
		return 0, false
	}
	return ToInt(v)
}

// Set returns a DB with key associated with v.
func (db DB) Set(key string, v any) DB {
	return DB{m: db.raw().Assoc(key, v)}
}

// Delete returns a DB without key.
func (db DB) Delete(key string) DB {
	return DB{m: db.raw().Dissoc(key)}
}

// Update returns a DB with key set to fn applied to its current value
// (nil when absent).
func (db DB) Update(key string, fn func(old any) any) DB {
	old, _ := db.Get(key)
	return db.Set(key, fn(old))
}

// Keys returns the keys in sorted order.
func (db DB) Keys() []string {
	keys := make([]string, 0, db.Len())
	for it := db.raw().Iterator(); it.HasElem(); it.Next() {
		k, _ := it.Elem()
		keys = append(keys, k.(string))
	}
	sort.Strings(keys)
	return keys
}

// ToMap copies the entries into a plain map.
func (db DB) ToMap() map[string]any {
	out := make(map[string]any, db.Len())
	for it := db.raw().Iterator(); it.HasElem(); it.Next() {
		k, v := it.Elem()
		out[k.(string)] = v
	}
	return out
}

// Equal reports whether both DBs hold deeply equal entries.
func (db DB) Equal(other DB) bool {
	return cmp.Equal(db.ToMap(), other.ToMap())
}

func (db DB) String() string {
	b, err := db.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("appdb.DB(%d keys)", db.Len())
	}
	return string(b)
}

// MarshalJSON encodes the DB as a JSON object with sorted keys.
func (db DB) MarshalJSON() ([]byte, error) {
	return json.Marshal(db.ToMap())
}

// UnmarshalJSON decodes a JSON object. Whole numbers decode as int, other
// numbers as float64.
func (db *DB) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("decode db: %w", err)
	}
	*db = FromMap(normalize(m).(map[string]any))
	return nil
}

// normalize converts json.Number values to int or float64, recursively.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}

// ToInt converts the numeric representations produced by Go code, JSON and
// YAML decoding to int.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return 0, false
		}
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func asKey(k any) (string, bool) {
	switch key := k.(type) {
	case string:
		return key, true
	case fmt.Stringer:
		return key.String(), true
	}
	// string-kinded named types such as engine.ID
	if s, ok := stringKind(k); ok {
		return s, true
	}
	return "", false
}

func stringKind(k any) (string, bool) {
	v := reflect.ValueOf(k)
	if v.Kind() == reflect.String {
		return v.String(), true
	}
	return "", false
}
