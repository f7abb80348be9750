package history

import (
	"bytes"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

// snapshotVersion is written with every snapshot. Version 1 is the bare
// JSON array without an envelope.
const snapshotVersion = 2

type snapshotV2 struct {
	Version int                   `json:"version"`
	Entries []*model.HistoryEntry `json:"entries"`
}

func encodeSnapshot(entries []*model.HistoryEntry) ([]byte, error) {
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}

	data, err := json.Marshal(snapshotV2{Version: snapshotVersion, Entries: entries})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal history snapshot")
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]*model.HistoryEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, goerr.New("history snapshot is empty")
	}

	var entries []*model.HistoryEntry
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal v1 history snapshot")
		}

	case '{':
		var snap snapshotV2
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal history snapshot")
		}
		if snap.Version < 2 {
			return nil, goerr.New("invalid history snapshot version", goerr.V("version", snap.Version))
		}
		// Newer versions only add fields, which are ignored here
		entries = snap.Entries

	default:
		return nil, goerr.New("history snapshot is neither an array nor an object")
	}

	return normalizeEntries(entries), nil
}

// normalizeEntries fills fields missing from older snapshots and drops
// entries without any identity
func normalizeEntries(entries []*model.HistoryEntry) []*model.HistoryEntry {
	out := make([]*model.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if e.Timestamp == 0 {
			if ts, ok := e.ID.Timestamp(); ok {
				e.Timestamp = ts
			}
		}
		if e.ID == "" {
			if e.Timestamp == 0 {
				// neither can be derived, so the entry is unaddressable
				continue
			}
			e.ID = model.NewHistoryID(e.CreatedAt())
		}
		out = append(out, e)
	}
	return out
}
