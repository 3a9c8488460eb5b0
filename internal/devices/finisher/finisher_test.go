package finisher

import "testing"

func TestCommands(t *testing.T) {
	tests := []struct {
		value uint64
		want  Status
	}{
		{CmdPass, Status{Action: ActionPoweroff}},
		{3<<16 | CmdFail, Status{Action: ActionPoweroff, Code: 3}},
		{CmdReset, Status{Action: ActionReset}},
	}
	for _, tt := range tests {
		var got []Status
		f := New(func(s Status) { got = append(got, s) })
		if err := f.Write(0, 4, tt.value); err != nil {
			t.Fatalf("Write(%#x): %v", tt.value, err)
		}
		if len(got) != 1 || got[0] != tt.want {
			t.Fatalf("Write(%#x) -> %+v, want %+v", tt.value, got, tt.want)
		}
		if last, ok := f.Last(); !ok || last != tt.want {
			t.Fatalf("Last = %+v, %v", last, ok)
		}
	}
}

func TestIgnoredWrites(t *testing.T) {
	f := New(nil)
	if err := f.Write(0, 4, 0x1234); err == nil {
		t.Fatalf("unknown command accepted")
	}
	if err := f.Write(4, 4, CmdPass); err != nil {
		t.Fatalf("Write at offset 4: %v", err)
	}
	if _, ok := f.Last(); ok {
		t.Fatalf("finisher fired on an ignored write")
	}
}

func TestStatusString(t *testing.T) {
	if s := (Status{Action: ActionPoweroff, Code: 2}).String(); s != "poweroff (fail, code 2)" {
		t.Fatalf("String = %q", s)
	}
	if s := (Status{Action: ActionReset}).String(); s != "reset" {
		t.Fatalf("String = %q", s)
	}
}
