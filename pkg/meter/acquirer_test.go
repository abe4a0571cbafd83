package meter

import (
	"context"
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
)

func fastOptions() Options {
	return Options{
		Timeout:    60 * time.Millisecond,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	}
}

func newTestAcquirer(t *testing.T, tr Transport, opts Options) *Acquirer {
	t.Helper()
	a := NewAcquirer(tr, opts)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAcquireSuccess(t *testing.T) {
	mock := NewMockTransport()
	mock.EnqueueFrame("VAL,5,3.291,V")

	a := newTestAcquirer(t, mock, fastOptions())

	rd, err := a.Acquire(context.Background(), 5)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if rd.PointID != 5 || rd.Value != 3.291 || rd.Unit != "V" {
		t.Fatalf("unexpected reading: %+v", rd)
	}
	if rd.At.IsZero() {
		t.Fatal("reading has no timestamp")
	}

	writes := mock.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected 1 request on the wire, got %d", len(writes))
	}
	if string(writes[0]) != string(encodeRequest(5)) {
		t.Fatalf("unexpected request frame: %q", writes[0])
	}
}

func TestAcquireChunkedResponse(t *testing.T) {
	mock := NewMockTransport()
	frame := BuildFrame("VAL,9,0.47,kOhm")
	mock.Enqueue(frame[:3], frame[3:8], frame[8:])

	a := newTestAcquirer(t, mock, fastOptions())

	rd, err := a.Acquire(context.Background(), 9)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if rd.Value != 0.47 || rd.Unit != "kOhm" {
		t.Fatalf("unexpected reading: %+v", rd)
	}
}

func TestAcquireTimeoutAfterRetries(t *testing.T) {
	mock := NewMockTransport()
	// Nothing enqueued: the device stays silent on all three attempts.

	a := newTestAcquirer(t, mock, fastOptions())

	_, err := a.Acquire(context.Background(), 1)
	if !pkgerrors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := len(mock.Writes()); got != 3 {
		t.Fatalf("expected 3 attempts on the wire, got %d", got)
	}
}

func TestAcquireRecoversFromBadChecksum(t *testing.T) {
	mock := NewMockTransport()
	mock.Enqueue([]byte("$VAL,1,3.30,V*00\r\n")) // bad checksum
	mock.EnqueueFrame("VAL,1,3.30,V")

	a := newTestAcquirer(t, mock, fastOptions())

	rd, err := a.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire() failed after checksum retry: %v", err)
	}
	if rd.Value != 3.30 {
		t.Fatalf("unexpected value %v", rd.Value)
	}
	if got := len(mock.Writes()); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestAcquireChecksumMismatchExhaustsRetries(t *testing.T) {
	mock := NewMockTransport()
	for i := 0; i < 3; i++ {
		mock.Enqueue([]byte("$VAL,1,3.30,V*00\r\n"))
	}

	a := newTestAcquirer(t, mock, fastOptions())

	_, err := a.Acquire(context.Background(), 1)
	if !pkgerrors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestAcquireWrongPointIDIsProtocolError(t *testing.T) {
	mock := NewMockTransport()
	for i := 0; i < 3; i++ {
		mock.EnqueueFrame("VAL,42,1.0,V") // responses for a different point
	}

	a := newTestAcquirer(t, mock, fastOptions())

	_, err := a.Acquire(context.Background(), 7)
	if !pkgerrors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch for mismatched point id, got %v", err)
	}
}

func TestAcquireDeviceErrorFrame(t *testing.T) {
	mock := NewMockTransport()
	for i := 0; i < 3; i++ {
		mock.EnqueueFrame("ERR,OVLD")
	}

	a := newTestAcquirer(t, mock, fastOptions())

	_, err := a.Acquire(context.Background(), 1)
	if !pkgerrors.Is(err, ErrDeviceNotResponding) {
		t.Fatalf("expected ErrDeviceNotResponding, got %v", err)
	}
}

func TestAcquireCancelReleasesChannel(t *testing.T) {
	mock := NewMockTransport()
	// First request: silent device, so the worker sits in a frame wait.
	// Second request: answered normally.
	mock.Enqueue()
	mock.EnqueueFrame("VAL,2,1.5,V")

	opts := fastOptions()
	opts.Timeout = 5 * time.Second // long enough that only cancel ends attempt 1
	a := newTestAcquirer(t, mock, opts)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := a.Acquire(ctx, 1)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the worker reach the frame wait
	cancel()

	select {
	case err := <-errCh:
		if !pkgerrors.Is(err, ErrCanceled) {
			t.Fatalf("expected ErrCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled acquisition did not return")
	}

	// The channel must be immediately reusable without re-initialization.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	rd, err := a.Acquire(ctx2, 2)
	if err != nil {
		t.Fatalf("Acquire() after cancel failed: %v", err)
	}
	if rd.PointID != 2 || rd.Value != 1.5 {
		t.Fatalf("unexpected reading after cancel: %+v", rd)
	}
}

func TestAcquireFIFOOrdering(t *testing.T) {
	mock := NewMockTransport()
	for i := 1; i <= 5; i++ {
		mock.EnqueueFrame(fmt.Sprintf("VAL,%d,1.0,V", i))
	}

	a := newTestAcquirer(t, mock, fastOptions())

	// Issue requests one after another from a single goroutine; the worker
	// must execute them strictly in that order.
	for i := 1; i <= 5; i++ {
		if _, err := a.Acquire(context.Background(), i); err != nil {
			t.Fatalf("Acquire(%d) failed: %v", i, err)
		}
	}

	writes := mock.Writes()
	if len(writes) != 5 {
		t.Fatalf("expected 5 requests, got %d", len(writes))
	}
	for i, w := range writes {
		if string(w) != string(encodeRequest(i+1)) {
			t.Fatalf("request %d out of order: %q", i, w)
		}
	}
}

func TestAcquireAfterClose(t *testing.T) {
	mock := NewMockTransport()
	a := NewAcquirer(mock, fastOptions())
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if mock.Opened() {
		t.Fatal("transport still open after Close")
	}

	_, err := a.Acquire(context.Background(), 1)
	if !pkgerrors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
