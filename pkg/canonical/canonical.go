// Package canonical provides the canonical JSON forms of a transition.
//
// TransitionBytes is the signature payload:
//   - Floats formatted to exactly 9 decimal places
//   - Keys sorted alphabetically
//   - No whitespace in JSON output
//
// ExactBytes follows the same rules but keeps full float64 precision. It
// backs content ids, which must separate any two measurements the monitor
// can tell apart.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/fractal-lba/bouncer/internal/monitor"
)

// F9 formats a float64 to exactly 9 decimal places.
//
// Example:
//
//	F9(1.23456789012345) // returns "1.234567890"
//	F9(0.5)              // returns "0.500000000"
func F9(x float64) string {
	return strconv.FormatFloat(x, 'f', 9, 64)
}

// Round9 rounds a float64 to 9 decimal places. Values too large to carry
// nine decimals are returned unchanged.
func Round9(x float64) float64 {
	const factor = 1e9
	if math.IsNaN(x) || math.Abs(x) >= 1e6 {
		return x
	}
	r := math.Round(x*factor) / factor
	if r == 0 {
		// drop the sign of negative zero
		return 0
	}
	return r
}

// TransitionBytes generates the canonical JSON bytes of a transition.
//
// Example output:
//
//	{"observations":{"x0":{"after":0.100000000,"before":0.000000000}},"source":"s1"}
//
// Non-finite observations are rejected.
func TransitionBytes(source string, obs map[string]monitor.Observation) ([]byte, error) {
	return encode(source, obs, func(x float64) string { return F9(Round9(x)) })
}

// ExactBytes is TransitionBytes at full precision: every float is written
// with the fewest digits that parse back to the same float64.
//
// Example output:
//
//	{"observations":{"x0":{"after":1.0000000004,"before":0}},"source":"s1"}
func ExactBytes(source string, obs map[string]monitor.Observation) ([]byte, error) {
	return encode(source, obs, func(x float64) string {
		if x == 0 {
			// drop the sign of negative zero
			x = 0
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	})
}

func encode(source string, obs map[string]monitor.Observation, format func(float64) string) ([]byte, error) {
	normalized := make(map[string]map[string]json.Number, len(obs))
	for name, o := range obs {
		if !finite(o.Before) || !finite(o.After) {
			return nil, fmt.Errorf("signal %q: non-finite observation", name)
		}
		normalized[name] = map[string]json.Number{
			"before": json.Number(format(o.Before)),
			"after":  json.Number(format(o.After)),
		}
	}

	// json.Marshal sorts map keys
	return json.Marshal(struct {
		Observations map[string]map[string]json.Number `json:"observations"`
		Source       string                            `json:"source"`
	}{normalized, source})
}

// TransitionID is the hex SHA-256 of a monitor fingerprint followed by the
// ExactBytes of the transition. Equal ids mean the same observations from
// the same source judged by the same model and delta.
func TransitionID(fingerprint, source string, obs map[string]monitor.Observation) (string, error) {
	payload, err := ExactBytes(source, obs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{'\n'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
