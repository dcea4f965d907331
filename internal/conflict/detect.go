package conflict

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimestampTolerance is how far apart two concurrent writes may be and
// still count as the same change
const DefaultTimestampTolerance = time.Second

// timestampFields are checked in order for the record-level modification time
var timestampFields = []string{"updatedAt", "updated_at", "lastModified", "modifiedAt"}

// auditFields never take part in field-by-field comparison
var auditFields = map[string]struct{}{
	"id":           {},
	"createdAt":    {},
	"updatedAt":    {},
	"lastSyncAt":   {},
	"created_at":   {},
	"updated_at":   {},
	"last_sync_at": {},
}

// wholeValueField names the single field reported when payloads are not JSON objects
const wholeValueField = "$"

// Detection is the outcome of comparing a local payload with a remote snapshot
type Detection struct {
	HasConflict bool
	Type        Type
	Fields      []string
}

// Detect compares local and remote, either of which may be absent (nil or JSON null).
// lastSync is the last time the entity was known to be in sync, when known.
// The first matching rule wins: both absent, one absent, concurrent timestamps, field diff.
func Detect(local, remote json.RawMessage, lastSync *time.Time, tolerance time.Duration) Detection {
	localAbsent, remoteAbsent := isAbsent(local), isAbsent(remote)

	switch {
	case localAbsent && remoteAbsent:
		return Detection{}
	case localAbsent || remoteAbsent:
		return Detection{HasConflict: true, Type: TypeDeletion, Fields: []string{}}
	}

	fields := DiffFields(local, remote)

	if lastSync != nil {
		localTS, lok := ExtractTimestamp(local)
		remoteTS, rok := ExtractTimestamp(remote)
		if lok && rok && localTS.After(*lastSync) && remoteTS.After(*lastSync) {
			diff := localTS.Sub(remoteTS)
			if diff < 0 {
				diff = -diff
			}
			if diff > tolerance {
				return Detection{HasConflict: true, Type: TypeTimestamp, Fields: fields}
			}
		}
	}

	if len(fields) > 0 {
		return Detection{HasConflict: true, Type: TypeData, Fields: fields}
	}
	return Detection{}
}

// DiffFields returns the sorted names of top-level fields whose serialized values
// differ between local and remote, ignoring identity and audit fields.
func DiffFields(local, remote json.RawMessage) []string {
	lr, rr := gjson.ParseBytes(local), gjson.ParseBytes(remote)
	if !lr.IsObject() || !rr.IsObject() {
		if bytes.Equal(canonical(local), canonical(remote)) {
			return []string{}
		}
		return []string{wholeValueField}
	}

	localFields := topLevelFields(lr)
	remoteFields := topLevelFields(rr)

	diff := []string{}
	seen := make(map[string]struct{}, len(localFields)+len(remoteFields))
	for _, set := range []map[string]json.RawMessage{localFields, remoteFields} {
		for name := range set {
			if _, done := seen[name]; done {
				continue
			}
			seen[name] = struct{}{}
			if _, skip := auditFields[name]; skip {
				continue
			}
			lv, lok := localFields[name]
			rv, rok := remoteFields[name]
			if lok != rok || !bytes.Equal(lv, rv) {
				diff = append(diff, name)
			}
		}
	}
	sort.Strings(diff)
	return diff
}

// ExtractTimestamp reads the record-level modification time from a payload.
// RFC 3339 strings and epoch milliseconds are accepted.
func ExtractTimestamp(raw json.RawMessage) (time.Time, bool) {
	if isAbsent(raw) {
		return time.Time{}, false
	}
	for _, field := range timestampFields {
		res := gjson.GetBytes(raw, field)
		if !res.Exists() {
			continue
		}
		switch res.Type {
		case gjson.String:
			if ts, err := time.Parse(time.RFC3339Nano, res.Str); err == nil {
				return ts, true
			}
		case gjson.Number:
			return time.UnixMilli(res.Int()), true
		default:
		}
	}
	return time.Time{}, false
}

func topLevelFields(obj gjson.Result) map[string]json.RawMessage {
	fields := make(map[string]json.RawMessage)
	obj.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = canonical(json.RawMessage(value.Raw))
		return true
	})
	return fields
}

// canonical re-encodes raw so that semantically equal values compare byte-equal
func canonical(raw json.RawMessage) json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
