package broker

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Task records are stored framed: json | crc32c(json). The checksum guards
// against partial writes and on-disk corruption.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// encodeTask frames a task record for storage.
func encodeTask(t *Task) ([]byte, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(doc)+4)
	out = append(out, doc...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(doc, castagnoli))
	return append(out, cb[:]...), nil
}

// decodeTask verifies the frame checksum and unmarshals the record.
func decodeTask(b []byte) (*Task, bool) {
	if len(b) < 5 {
		return nil, false
	}
	doc := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(doc, castagnoli) != expect {
		return nil, false
	}
	var t Task
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, false
	}
	return &t, true
}
