package canonical

import (
	"errors"
	"math"
	"testing"

	"github.com/fractal-lba/bouncer/internal/monitor"
)

func TestF9(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.23456789012345, "1.234567890"},
		{0.5, "0.500000000"},
		{-0.0222, "-0.022200000"},
		{0, "0.000000000"},
	}

	for _, tt := range tests {
		if got := F9(tt.in); got != tt.want {
			t.Errorf("F9(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRound9(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.0000000004, 1},
		{1.0000000006, 1.000000001},
		{-1.0000000006, -1.000000001},
		{2e6 + 0.1234567891, 2e6 + 0.1234567891},
	}

	for _, tt := range tests {
		if got := Round9(tt.in); got != tt.want {
			t.Errorf("Round9(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransitionBytes(t *testing.T) {
	obs := map[string]monitor.Observation{
		"x1": {Before: 0.25, After: -0.5},
		"x0": {Before: 0, After: 0.1},
	}

	got, err := TransitionBytes("s1", obs)
	if err != nil {
		t.Fatalf("TransitionBytes: %v", err)
	}

	want := `{"observations":{"x0":{"after":0.100000000,"before":0.000000000},` +
		`"x1":{"after":-0.500000000,"before":0.250000000}},"source":"s1"}`
	if string(got) != want {
		t.Errorf("TransitionBytes =\n%s\nwant\n%s", got, want)
	}
}

func TestTransitionBytesRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		obs := map[string]monitor.Observation{"x0": {Before: v}}
		if _, err := TransitionBytes("", obs); err == nil {
			t.Errorf("TransitionBytes accepted %v", v)
		}
	}
}

func TestExactBytes(t *testing.T) {
	obs := map[string]monitor.Observation{
		"x1": {Before: math.Copysign(0, -1), After: 1 + 4e-10},
		"x0": {Before: 0.1, After: -2.5e-7},
	}

	got, err := ExactBytes("s1", obs)
	if err != nil {
		t.Fatalf("ExactBytes: %v", err)
	}

	want := `{"observations":{"x0":{"after":-2.5e-07,"before":0.1},` +
		`"x1":{"after":1.0000000004,"before":0}},"source":"s1"}`
	if string(got) != want {
		t.Errorf("ExactBytes =\n%s\nwant\n%s", got, want)
	}
}

func TestTransitionID(t *testing.T) {
	const fp = "model-a"
	a := map[string]monitor.Observation{"x0": {Before: 0.1, After: 0.2}}
	// differs only below the ninth decimal
	b := map[string]monitor.Observation{"x0": {Before: 0.1 + 1e-12, After: 0.2}}
	c := map[string]monitor.Observation{"x0": {Before: 0.1, After: 0.3}}

	idA, err := TransitionID(fp, "s1", a)
	if err != nil {
		t.Fatalf("TransitionID: %v", err)
	}
	idAgain, _ := TransitionID(fp, "s1", map[string]monitor.Observation{"x0": {Before: 0.1, After: 0.2}})
	idB, _ := TransitionID(fp, "s1", b)
	idC, _ := TransitionID(fp, "s1", c)
	idOther, _ := TransitionID(fp, "s2", a)
	idModel, _ := TransitionID("model-b", "s1", a)

	if idA != idAgain {
		t.Errorf("ids differ for equal content: %s vs %s", idA, idAgain)
	}
	for name, id := range map[string]string{
		"sub-nanounit observations": idB,
		"different observations":    idC,
		"different sources":         idOther,
		"different fingerprints":    idModel,
	} {
		if id == idA {
			t.Errorf("ids equal for %s", name)
		}
	}

	// the signature payload still rounds
	pa, _ := TransitionBytes("s1", a)
	pb, _ := TransitionBytes("s1", b)
	if string(pa) != string(pb) {
		t.Errorf("TransitionBytes differ below nine decimals:\n%s\n%s", pa, pb)
	}
}

func TestHMAC(t *testing.T) {
	key := []byte("secret")
	payload, err := TransitionBytes("s1", map[string]monitor.Observation{"x0": {After: 1}})
	if err != nil {
		t.Fatalf("TransitionBytes: %v", err)
	}

	sig := SignHMAC(payload, key)
	if err := VerifyHMAC(payload, sig, key); err != nil {
		t.Errorf("VerifyHMAC(valid) = %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
		sig     string
		key     []byte
	}{
		{"wrong key", payload, sig, []byte("other")},
		{"tampered payload", append([]byte(nil), payload[:len(payload)-1]...), sig, key},
		{"not base64", payload, "%%%", key},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyHMAC(tt.payload, tt.sig, tt.key); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("VerifyHMAC = %v, want ErrInvalidSignature", err)
			}
		})
	}
}
