package monitor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"

	"github.com/fractal-lba/bouncer/internal/affine"
	"github.com/fractal-lba/bouncer/internal/dd"
	"github.com/fractal-lba/bouncer/internal/lp"
)

// fingerprint hashes everything a verdict depends on besides the
// observations: delta, the monitored signals, every world and the compiled
// path constraints. Floats are hashed bit for bit.
func fingerprint(delta float64, continuous []string, worlds []World, paths map[dd.CondID]lp.Constraint) string {
	fp := fingerprinter{h: sha256.New()}

	fp.putFloat(delta)
	fp.putStrings(continuous)

	fp.putInt(int64(len(worlds)))
	for _, w := range worlds {
		fp.putInt(int64(len(w.Path)))
		for _, id := range w.Path {
			fp.putInt(int64(id))
		}
		for _, name := range continuous {
			fp.putForm(w.Pre[name])
			fp.putForm(w.Post[name])
		}
	}

	ids := make([]int, 0, len(paths))
	for id := range paths {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		c := paths[dd.CondID(id)]
		fp.putInt(int64(id))
		fp.putInt(int64(c.Sign))
		fp.putFloat(c.RHS)
		fp.putFloat(c.Expr.Constant)
		vars := make([]lp.Variable, 0, len(c.Expr.Terms))
		for v := range c.Expr.Terms {
			vars = append(vars, v)
		}
		sort.Slice(vars, func(i, j int) bool { return vars[i].ID < vars[j].ID })
		for _, v := range vars {
			fp.putInt(int64(v.ID))
			fp.putFloat(c.Expr.Terms[v])
		}
	}

	return hex.EncodeToString(fp.h.Sum(nil))
}

type fingerprinter struct {
	h   hash.Hash
	buf [8]byte
}

func (fp *fingerprinter) putInt(v int64) {
	binary.BigEndian.PutUint64(fp.buf[:], uint64(v))
	fp.h.Write(fp.buf[:])
}

func (fp *fingerprinter) putFloat(v float64) {
	binary.BigEndian.PutUint64(fp.buf[:], math.Float64bits(v))
	fp.h.Write(fp.buf[:])
}

func (fp *fingerprinter) putStrings(ss []string) {
	fp.putInt(int64(len(ss)))
	for _, s := range ss {
		fp.putInt(int64(len(s)))
		fp.h.Write([]byte(s))
	}
}

func (fp *fingerprinter) putForm(f affine.Form) {
	fp.putFloat(f.Central)
	fp.putFloat(f.Radius)
	ids := f.Symbols()
	fp.putInt(int64(len(ids)))
	for _, id := range ids {
		fp.putInt(int64(id))
		fp.putFloat(f.Coeffs[id])
	}
}
