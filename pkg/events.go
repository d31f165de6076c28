package coincidences

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EventSize is the size in bytes of one encoded Event.
const EventSize = 16

// Event is one digitizer record. The layout on disk is
// timestamp(8) qshort(2) qlong(2) baseline(2) channel(1) flags(1), little-endian.
type Event struct {
	Timestamp uint64
	Qshort    uint16
	Qlong     uint16
	Baseline  uint16
	Channel   uint8
	Flags     uint8
}

// Energy is the long gate integral.
func (e Event) Energy() float64 {
	return float64(e.Qlong)
}

// PSD returns (qlong - qshort) / qlong, or NaN when qlong is zero.
func (e Event) PSD() float64 {
	if e.Qlong == 0 {
		return math.NaN()
	}
	return (float64(e.Qlong) - float64(e.Qshort)) / float64(e.Qlong)
}

func (e Event) Encode() []byte {
	buffer := make([]byte, EventSize)
	binary.LittleEndian.PutUint64(buffer[0:8], e.Timestamp)
	binary.LittleEndian.PutUint16(buffer[8:10], e.Qshort)
	binary.LittleEndian.PutUint16(buffer[10:12], e.Qlong)
	binary.LittleEndian.PutUint16(buffer[12:14], e.Baseline)
	buffer[14] = e.Channel
	buffer[15] = e.Flags
	return buffer
}

func DecodeEvent(raw []byte) (Event, error) {
	var event Event
	if len(raw) < EventSize {
		return event, &ErrMalformedRecord{Remaining: len(raw)}
	}
	reader := bytes.NewReader(raw[:EventSize])
	if err := binary.Read(reader, binary.LittleEndian, &event); err != nil {
		return event, err
	}
	return event, nil
}

// DecodeBatch decodes a buffer holding a whole number of records.
func DecodeBatch(data []byte) ([]Event, error) {
	if len(data)%EventSize != 0 {
		return nil, &ErrMalformedBatch{Size: len(data)}
	}
	events := make([]Event, len(data)/EventSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, events); err != nil {
		return nil, err
	}
	return events, nil
}

func EncodeBatch(events []Event) []byte {
	buffer := make([]byte, 0, len(events)*EventSize)
	for _, event := range events {
		buffer = append(buffer, event.Encode()...)
	}
	return buffer
}
