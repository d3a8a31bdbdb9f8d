package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"
)

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(b []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Header == nil {
		snap.Header = http.Header{}
	}
	return &snap, nil
}
