package serial

import (
	"bytes"
	"testing"
)

func TestTransmit(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, 0)
	for _, b := range []byte("hi\n") {
		if err := u.Write(RegTHR, 1, uint64(b)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if out.String() != "hi\n" {
		t.Fatalf("output = %q", out.String())
	}
	if u.Transmitted() != 3 {
		t.Fatalf("Transmitted = %d", u.Transmitted())
	}
	lsr, _ := u.Read(RegLSR, 1)
	if lsr&LSRTHREmpty == 0 {
		t.Fatalf("THR not empty after transmit: %#x", lsr)
	}
}

func TestDivisorLatch(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, 0)
	u.Write(RegLCR, 1, LCRDLAB)
	u.Write(RegTHR, 1, 0x02)
	u.Write(RegIER, 1, 0x01)
	u.Write(RegLCR, 1, 0x03)

	if u.Divisor() != 0x0102 {
		t.Fatalf("Divisor = %#x", u.Divisor())
	}
	if out.Len() != 0 {
		t.Fatalf("divisor writes leaked to output: %q", out.String())
	}
	if v, _ := u.Read(RegIER, 1); v != 0 {
		t.Fatalf("IER = %#x after leaving DLAB", v)
	}
}

func TestReceiveAndLoopback(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, 0)
	if lsr, _ := u.Read(RegLSR, 1); lsr&LSRDataReady != 0 {
		t.Fatalf("data ready with empty queue")
	}
	u.EnqueueInput([]byte("a"))
	if lsr, _ := u.Read(RegLSR, 1); lsr&LSRDataReady == 0 {
		t.Fatalf("data not ready after EnqueueInput")
	}
	if v, _ := u.Read(RegRBR, 1); v != 'a' {
		t.Fatalf("RBR = %q", rune(v))
	}

	u.Write(RegMCR, 1, MCRLoop)
	u.Write(RegTHR, 1, 'z')
	if v, _ := u.Read(RegRBR, 1); v != 'z' {
		t.Fatalf("loopback RBR = %q", rune(v))
	}
	if out.Len() != 0 {
		t.Fatalf("loopback byte reached output")
	}
}

func TestStride(t *testing.T) {
	var out bytes.Buffer
	u := New(&out, 2)
	u.Write(RegSCR*4, 1, 0x5a)
	if v, _ := u.Read(RegSCR*4, 1); v != 0x5a {
		t.Fatalf("SCR = %#x", v)
	}
	if v, _ := u.Read(1, 1); v != 0 {
		t.Fatalf("unaligned read = %#x", v)
	}
}
