package meter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Frame protocol of the supported multimeter class. Frames are NMEA-style:
//
//	request:  $MEAS,<id>*HH\r\n
//	response: $VAL,<id>,<value>,<unit>*HH\r\n
//	error:    $ERR,<code>*HH\r\n
//
// HH is the XOR of every byte between '$' and '*', in upper-case hex.
const (
	frameStart = '$'
	frameCheck = '*'

	cmdMeasure  = "MEAS"
	respValue   = "VAL"
	respDevErr  = "ERR"
	frameEnding = "\r\n"
)

// response is one parsed device answer.
type response struct {
	pointID int
	value   float64
	unit    string

	// devErr is a device-reported error code; set only for $ERR frames.
	devErr string
}

// checksum XORs the payload bytes (everything between '$' and '*').
func checksum(payload []byte) byte {
	var c byte
	for _, b := range payload {
		c ^= b
	}
	return c
}

// BuildFrame wraps a payload with the start marker, checksum and terminator.
// Exposed so device simulators can produce well-formed frames.
func BuildFrame(payload string) []byte {
	return []byte(fmt.Sprintf("%c%s%c%02X%s", frameStart, payload, frameCheck, checksum([]byte(payload)), frameEnding))
}

// encodeRequest builds the point-select command frame for a point id.
func encodeRequest(pointID int) []byte {
	return BuildFrame(fmt.Sprintf("%s,%d", cmdMeasure, pointID))
}

// parseFrame validates and decodes one complete frame (without the trailing
// CRLF). It is strict: any deviation is an error, never data.
func parseFrame(frame []byte) (response, error) {
	var r response

	if len(frame) < 5 || frame[0] != frameStart {
		return r, fmt.Errorf("malformed frame %q", frame)
	}
	starIdx := bytes.LastIndexByte(frame, frameCheck)
	if starIdx < 0 || len(frame)-starIdx != 3 {
		return r, fmt.Errorf("frame %q has no checksum field", frame)
	}

	payload := frame[1:starIdx]
	want, err := strconv.ParseUint(string(frame[starIdx+1:]), 16, 8)
	if err != nil {
		return r, fmt.Errorf("frame %q has unparsable checksum: %v", frame, err)
	}
	if got := checksum(payload); got != byte(want) {
		return r, fmt.Errorf("frame %q checksum mismatch: got %02X, want %02X", frame, got, want)
	}

	fields := strings.Split(string(payload), ",")
	switch fields[0] {
	case respValue:
		if len(fields) != 4 {
			return r, fmt.Errorf("value frame %q has %d fields, want 4", frame, len(fields))
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return r, fmt.Errorf("value frame %q has bad point id: %v", frame, err)
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return r, fmt.Errorf("value frame %q has bad value: %v", frame, err)
		}
		r.pointID = id
		r.value = value
		r.unit = fields[3]
		return r, nil

	case respDevErr:
		if len(fields) != 2 {
			return r, fmt.Errorf("error frame %q has %d fields, want 2", frame, len(fields))
		}
		r.devErr = fields[1]
		return r, nil

	default:
		return r, fmt.Errorf("frame %q has unknown type %q", frame, fields[0])
	}
}

// frameScanner reassembles delimited frames from an arbitrarily chunked byte
// stream. Bytes before a '$' are line noise and dropped.
type frameScanner struct {
	buf []byte
}

func (s *frameScanner) feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// next pops one complete frame (without CRLF), or nil if none is buffered.
func (s *frameScanner) next() []byte {
	start := bytes.IndexByte(s.buf, frameStart)
	if start < 0 {
		s.buf = s.buf[:0]
		return nil
	}
	end := bytes.Index(s.buf[start:], []byte(frameEnding))
	if end < 0 {
		// Keep the partial frame, drop leading noise.
		s.buf = s.buf[start:]
		return nil
	}
	frame := s.buf[start : start+end]
	s.buf = s.buf[start+end+len(frameEnding):]
	return frame
}
