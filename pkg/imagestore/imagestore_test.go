package imagestore

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	data := encodePNG(t, 640, 480)

	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if img.Width != 640 || img.Height != 480 {
		t.Fatalf("got %dx%d, want 640x480", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Fatalf("got format %q, want png", img.Format)
	}
	if !bytes.Equal(img.Data, data) {
		t.Fatal("encoded bytes were not kept opaque")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Fatal("Decode() accepted garbage")
	}
}
