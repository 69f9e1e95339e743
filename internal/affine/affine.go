// Package affine provides the affine-arithmetic value type shared by the
// decision-diagram model and the monitor.
//
// A Form represents an uncertain real quantity as
//
//	central + Σ coeff_i·ε_i + [-radius, +radius]
//
// where every noise symbol ε_i ranges over [-1, 1] and the radius bounds the
// non-linear remainder accumulated by operations such as Mul. Forms are values:
// every operation returns a new Form and never mutates its operands.
package affine

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Form is an affine form. The zero value is the exact scalar 0.
type Form struct {
	Central float64         `json:"central"`
	Radius  float64         `json:"radius"`
	Coeffs  map[int]float64 `json:"coeffs,omitempty"`
}

// Scalar returns the exact form for c.
func Scalar(c float64) Form {
	return Form{Central: c}
}

// New builds a form from its parts. Zero coefficients are dropped and a
// negative radius is normalized to its magnitude.
func New(central, radius float64, coeffs map[int]float64) Form {
	f := Form{Central: central, Radius: math.Abs(radius)}
	for id, c := range coeffs {
		if c == 0 {
			continue
		}
		if f.Coeffs == nil {
			f.Coeffs = make(map[int]float64, len(coeffs))
		}
		f.Coeffs[id] = c
	}
	return f
}

// Clone returns a deep copy of f.
func (f Form) Clone() Form {
	return New(f.Central, f.Radius, f.Coeffs)
}

// Symbols returns the noise symbol ids referenced by f in ascending order.
func (f Form) Symbols() []int {
	ids := make([]int, 0, len(f.Coeffs))
	for id := range f.Coeffs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Deviation is Σ|coeff_i|, the half width contributed by the noise symbols.
func (f Form) Deviation() float64 {
	sum := 0.0
	for _, c := range f.Coeffs {
		sum += math.Abs(c)
	}
	return sum
}

// Min is the guaranteed lower bound of f.
func (f Form) Min() float64 {
	return f.Central - f.Deviation() - f.Radius
}

// Max is the guaranteed upper bound of f.
func (f Form) Max() float64 {
	return f.Central + f.Deviation() + f.Radius
}

// IsExact reports whether f carries no uncertainty at all.
func (f Form) IsExact() bool {
	return f.Radius == 0 && len(f.Coeffs) == 0
}

// Add returns f + g.
func (f Form) Add(g Form) Form {
	out := make(map[int]float64, len(f.Coeffs)+len(g.Coeffs))
	for id, c := range f.Coeffs {
		out[id] = c
	}
	for id, c := range g.Coeffs {
		out[id] += c
	}
	return New(f.Central+g.Central, f.Radius+g.Radius, out)
}

// Neg returns -f.
func (f Form) Neg() Form {
	return f.Scale(-1)
}

// Sub returns f - g.
func (f Form) Sub(g Form) Form {
	return f.Add(g.Neg())
}

// Scale returns k·f.
func (f Form) Scale(k float64) Form {
	out := make(map[int]float64, len(f.Coeffs))
	for id, c := range f.Coeffs {
		out[id] = k * c
	}
	return New(k*f.Central, math.Abs(k)*f.Radius, out)
}

// AddConst returns f + k.
func (f Form) AddConst(k float64) Form {
	g := f.Clone()
	g.Central += k
	return g
}

// Mul returns f·g. The linear part is exact; the product of the two
// deviations and the cross terms with the radii go into the radius.
func (f Form) Mul(g Form) Form {
	out := make(map[int]float64, len(f.Coeffs)+len(g.Coeffs))
	for id, c := range f.Coeffs {
		out[id] += g.Central * c
	}
	for id, c := range g.Coeffs {
		out[id] += f.Central * c
	}
	remainder := (f.Deviation()+f.Radius)*(g.Deviation()+g.Radius) +
		math.Abs(f.Central)*g.Radius + math.Abs(g.Central)*f.Radius
	return New(f.Central*g.Central, remainder, out)
}

// String renders f as "c + a·e_i + ... ± r".
func (f Form) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%g", f.Central)
	for _, id := range f.Symbols() {
		c := f.Coeffs[id]
		if c < 0 {
			fmt.Fprintf(&sb, " - %g·e_%d", -c, id)
		} else {
			fmt.Fprintf(&sb, " + %g·e_%d", c, id)
		}
	}
	if f.Radius != 0 {
		fmt.Fprintf(&sb, " ± %g", f.Radius)
	}
	return sb.String()
}

// Noise allocates fresh noise symbols. Symbol ids start at 1.
type Noise struct {
	last int
}

// NewNoise returns an allocator whose first symbol is 1.
func NewNoise() *Noise {
	return &Noise{}
}

// Fresh returns an unused symbol id.
func (n *Noise) Fresh() int {
	n.last++
	return n.last
}

// Count is the number of symbols allocated so far.
func (n *Noise) Count() int {
	return n.last
}

// Range returns a form covering [lo, hi] with a fresh noise symbol.
func (n *Noise) Range(lo, hi float64) Form {
	if lo > hi {
		lo, hi = hi, lo
	}
	half := (hi - lo) / 2
	if half == 0 {
		return Scalar(lo)
	}
	return New(lo+half, 0, map[int]float64{n.Fresh(): half})
}
