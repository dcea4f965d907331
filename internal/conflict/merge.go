package conflict

import (
	"encoding/json"
	"fmt"
)

// Merge combines local and remote. All fields of both sides are kept, local
// overriding remote; each conflicting field then takes the value from the side
// with the later record timestamp. Equal or missing timestamps keep the local value.
func Merge(local, remote json.RawMessage, conflictFields []string) (json.RawMessage, error) {
	switch {
	case isAbsent(local) && isAbsent(remote):
		return json.RawMessage("null"), nil
	case isAbsent(local):
		return cloneRaw(remote), nil
	case isAbsent(remote):
		return cloneRaw(local), nil
	}

	remoteWins := remoteIsNewer(local, remote)

	var localFields, remoteFields map[string]json.RawMessage
	if err := json.Unmarshal(local, &localFields); err != nil {
		if remoteWins {
			return cloneRaw(remote), nil
		}
		return cloneRaw(local), nil
	}
	if err := json.Unmarshal(remote, &remoteFields); err != nil {
		return nil, fmt.Errorf("failed to decode remote data for merge: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(localFields)+len(remoteFields))
	for k, v := range remoteFields {
		merged[k] = v
	}
	for k, v := range localFields {
		merged[k] = v
	}

	if remoteWins {
		for _, field := range conflictFields {
			if v, ok := remoteFields[field]; ok {
				merged[field] = v
			} else {
				delete(merged, field)
			}
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged data: %w", err)
	}
	return out, nil
}

func remoteIsNewer(local, remote json.RawMessage) bool {
	localTS, lok := ExtractTimestamp(local)
	remoteTS, rok := ExtractTimestamp(remote)
	return lok && rok && remoteTS.After(localTS)
}
