package meter

import (
	"bytes"
	"fmt"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	frame := encodeRequest(12)

	if frame[0] != '$' || !bytes.HasSuffix(frame, []byte("\r\n")) {
		t.Fatalf("request frame not delimited: %q", frame)
	}
	want := fmt.Sprintf("$MEAS,12*%02X\r\n", checksum([]byte("MEAS,12")))
	if string(frame) != want {
		t.Fatalf("encodeRequest(12) = %q, want %q", frame, want)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    response
		wantErr bool
	}{
		{
			name:  "valid value frame",
			frame: bytes.TrimSuffix(BuildFrame("VAL,3,1.234,V"), []byte("\r\n")),
			want:  response{pointID: 3, value: 1.234, unit: "V"},
		},
		{
			name:  "negative value",
			frame: bytes.TrimSuffix(BuildFrame("VAL,7,-0.05,mA"), []byte("\r\n")),
			want:  response{pointID: 7, value: -0.05, unit: "mA"},
		},
		{
			name:  "device error frame",
			frame: bytes.TrimSuffix(BuildFrame("ERR,OVLD"), []byte("\r\n")),
			want:  response{devErr: "OVLD"},
		},
		{
			name:    "bad checksum",
			frame:   []byte("$VAL,3,1.234,V*00"),
			wantErr: true,
		},
		{
			name:    "missing checksum field",
			frame:   []byte("$VAL,3,1.234,V"),
			wantErr: true,
		},
		{
			name:    "unknown frame type",
			frame:   bytes.TrimSuffix(BuildFrame("HELLO,1"), []byte("\r\n")),
			wantErr: true,
		},
		{
			name:    "wrong field count",
			frame:   bytes.TrimSuffix(BuildFrame("VAL,3,1.234"), []byte("\r\n")),
			wantErr: true,
		},
		{
			name:    "empty",
			frame:   []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFrame(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFrame(%q) error = %v, wantErr = %t", tt.frame, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("parseFrame(%q) = %+v, want %+v", tt.frame, got, tt.want)
			}
		})
	}
}

func TestFrameScannerReassemblesChunks(t *testing.T) {
	full := BuildFrame("VAL,1,3.30,V")

	var s frameScanner
	s.feed(full[:4])
	if s.next() != nil {
		t.Fatal("scanner produced a frame from a partial buffer")
	}
	s.feed(full[4:])

	frame := s.next()
	if frame == nil {
		t.Fatal("scanner did not produce the completed frame")
	}
	if _, err := parseFrame(frame); err != nil {
		t.Fatalf("reassembled frame does not parse: %v", err)
	}
}

func TestFrameScannerDropsNoise(t *testing.T) {
	var s frameScanner
	s.feed([]byte("garbage\x00\xff"))
	s.feed(BuildFrame("VAL,2,1.0,V"))

	frame := s.next()
	if frame == nil {
		t.Fatal("scanner lost the frame after line noise")
	}
	resp, err := parseFrame(frame)
	if err != nil {
		t.Fatalf("frame after noise does not parse: %v", err)
	}
	if resp.pointID != 2 {
		t.Fatalf("got point %d, want 2", resp.pointID)
	}
}

func TestFrameScannerMultipleFrames(t *testing.T) {
	var s frameScanner
	s.feed(append(BuildFrame("VAL,1,1.0,V"), BuildFrame("VAL,2,2.0,V")...))

	first := s.next()
	second := s.next()
	if first == nil || second == nil {
		t.Fatal("scanner did not split back-to-back frames")
	}
	if s.next() != nil {
		t.Fatal("scanner invented a third frame")
	}
}
