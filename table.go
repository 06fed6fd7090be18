// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Table holds the emissivity lookup tables (one ragged table per
// gas/channel pair, each a p-grid of t-grids of u-grids of emissivity
// values, deliberately jagged rather than a dense [NG][ND][NP][NT][NU]
// array per design note §9) and the single 1200-point Planck
// source-function table shared by every channel. TableStore owns the
// full set and the bracket-and-interpolate lookups BandRT calls on
// every segment.
//
// EpsLookup, ULookup and SrcLookup follow the same sparse, per-key,
// bracket-and-interpolate accessor shape used throughout the package
// for querying position-dependent tables at an arbitrary point.
package radtran

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// UNode is one column-density node: (u, eps) at a fixed (p,t).
type UNode struct {
	U   float64
	Eps float64
}

// TNode is one temperature node: a u-grid of UNodes at a fixed p.
type TNode struct {
	T     float64
	UNode []UNode // sorted by U
}

// PNode is one pressure node: a t-grid of TNodes.
type PNode struct {
	P     float64
	TNode []TNode // sorted by T
}

// EpsTable is the ragged emissivity table for one (gas, channel) pair:
// a p-grid of t-grids of u-grids. Each level can have a different
// number of t-nodes, and each t-node a different number of u-nodes,
// matching the source tables' genuinely irregular coverage instead of
// padding to a common dense shape.
type EpsTable struct {
	PNode []PNode // sorted by P
}

// TableStore is the full set of lookup data for one run: an EpsTable
// per (gas, channel) and the Planck source-function table.
type TableStore struct {
	NG, ND int
	Eps    [][]*EpsTable // Eps[ig][id], nil entry if gas ig has no line absorption in channel id

	SrcNu   []float64 // Planck table wavenumber per channel, length ND
	SrcT    []float64 // Planck table temperature grid, length TBLNS expected (increasing)
	SrcVal  [][]float64 // SrcVal[id][it], source radiance
}

// NewTableStore allocates an empty store for ng gases and nd channels.
func NewTableStore(ng, nd int) *TableStore {
	ts := &TableStore{NG: ng, ND: nd}
	ts.Eps = make([][]*EpsTable, ng)
	for i := range ts.Eps {
		ts.Eps[i] = make([]*EpsTable, nd)
	}
	ts.SrcNu = make([]float64, nd)
	ts.SrcVal = make([][]float64, nd)
	return ts
}

// LoadTableStore reads the per-gas/channel emissivity tables and the
// Planck source table from base-prefixed files: "<base>_<gas>_<id>.tab"
// (".bin" instead of ".tab" when TblFmt is 1) for each configured
// emitter/channel pair that exists on disk, and
// "<base>_planck.tab" for the source table. Missing emissivity files
// are tolerated (that gas/channel pair simply contributes zero line
// absorption); a missing source table is fatal.
func LoadTableStore(ctl *Ctl) (*TableStore, error) {
	ts := NewTableStore(ctl.NG, ctl.ND)
	for id := 0; id < ctl.ND; id++ {
		ts.SrcNu[id] = ctl.Nu[id]
	}

	readOne := readEpsTable
	ext := ".tab"
	if ctl.TblFmt == 1 {
		readOne = readEpsTableBinary
		ext = ".bin"
	}

	for ig, gas := range ctl.Emitter {
		for id := 0; id < ctl.ND; id++ {
			path := fmt.Sprintf("%s_%s_%d%s", ctl.TblBase, gas, id, ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			tab, err := readOne(path)
			if err != nil {
				return nil, err
			}
			ts.Eps[ig][id] = tab
		}
	}

	srcPath := ctl.TblBase + "_planck.tab"
	t, vals, err := readSrcTable(srcPath, ctl.ND)
	if err != nil {
		return nil, err
	}
	ts.SrcT = t
	ts.SrcVal = vals
	return ts, nil
}

// readEpsTable parses a whitespace-separated "p t u eps" table, one row
// per (p,t,u) triple, not necessarily sorted, and assembles it into the
// ragged PNode/TNode/UNode hierarchy.
func readEpsTable(path string) (*EpsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIOError("cannot open emissivity table %q: %v", path, err)
	}
	defer f.Close()

	type row struct{ p, t, u, eps float64 }
	var rows []row

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, NewIOError("malformed row in %q: %v", path, err)
			}
			vals[i] = v
		}
		rows = append(rows, row{vals[0], vals[1], vals[2], vals[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, NewIOError("error reading %q: %v", path, err)
	}
	if len(rows) == 0 {
		return nil, NewIOError("emissivity table %q has no data rows", path)
	}

	pIdx := map[float64]*PNode{}
	tab := &EpsTable{}
	for _, r := range rows {
		pn, ok := pIdx[r.p]
		if !ok {
			tab.PNode = append(tab.PNode, PNode{P: r.p})
			pn = &tab.PNode[len(tab.PNode)-1]
			pIdx[r.p] = pn
		}
		var tn *TNode
		for i := range pn.TNode {
			if pn.TNode[i].T == r.t {
				tn = &pn.TNode[i]
				break
			}
		}
		if tn == nil {
			pn.TNode = append(pn.TNode, TNode{T: r.t})
			tn = &pn.TNode[len(pn.TNode)-1]
		}
		tn.UNode = append(tn.UNode, UNode{U: r.u, Eps: r.eps})
	}

	sort.Slice(tab.PNode, func(i, j int) bool { return tab.PNode[i].P < tab.PNode[j].P })
	for i := range tab.PNode {
		sort.Slice(tab.PNode[i].TNode, func(a, b int) bool { return tab.PNode[i].TNode[a].T < tab.PNode[i].TNode[b].T })
		for j := range tab.PNode[i].TNode {
			un := tab.PNode[i].TNode[j].UNode
			sort.Slice(un, func(a, b int) bool { return un[a].U < un[b].U })
		}
	}
	return tab, nil
}

// readEpsTableBinary parses the little-endian binary table layout: for
// each of np pressure nodes, uint32 nt followed by nt temperature
// records of (double p, double t, uint32 nu, float32[nu] u, float32[nu]
// eps). np itself is a leading uint32.
func readEpsTableBinary(path string) (*EpsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIOError("cannot open emissivity table %q: %v", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var np uint32
	if err := binary.Read(r, binary.LittleEndian, &np); err != nil {
		return nil, NewIOError("truncated table header in %q: %v", path, err)
	}

	tab := &EpsTable{PNode: make([]PNode, 0, np)}
	for ip := uint32(0); ip < np; ip++ {
		var nt uint32
		if err := binary.Read(r, binary.LittleEndian, &nt); err != nil {
			return nil, NewIOError("truncated table in %q at pressure node %d: %v", path, ip, err)
		}
		pn := PNode{TNode: make([]TNode, 0, nt)}
		for it := uint32(0); it < nt; it++ {
			var p, t float64
			var nu uint32
			if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
				return nil, NewIOError("truncated table in %q: %v", path, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
				return nil, NewIOError("truncated table in %q: %v", path, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &nu); err != nil {
				return nil, NewIOError("truncated table in %q: %v", path, err)
			}
			us := make([]float32, nu)
			epsVals := make([]float32, nu)
			if err := binary.Read(r, binary.LittleEndian, &us); err != nil {
				return nil, NewIOError("truncated table in %q: %v", path, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &epsVals); err != nil {
				return nil, NewIOError("truncated table in %q: %v", path, err)
			}
			tn := TNode{T: t, UNode: make([]UNode, nu)}
			for i := range tn.UNode {
				tn.UNode[i] = UNode{U: float64(us[i]), Eps: float64(epsVals[i])}
			}
			pn.P = p
			pn.TNode = append(pn.TNode, tn)
		}
		tab.PNode = append(tab.PNode, pn)
	}

	sort.Slice(tab.PNode, func(i, j int) bool { return tab.PNode[i].P < tab.PNode[j].P })
	for i := range tab.PNode {
		sort.Slice(tab.PNode[i].TNode, func(a, b int) bool { return tab.PNode[i].TNode[a].T < tab.PNode[i].TNode[b].T })
	}
	return tab, nil
}

// readSrcTable parses the Planck source table: the first column is
// temperature, the following nd columns are per-channel source
// radiance, one row per temperature node (TBLNS rows expected but not
// enforced).
func readSrcTable(path string, nd int) (t []float64, vals [][]float64, err error) {
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, nil, NewIOError("cannot open source table %q: %v", path, ferr)
	}
	defer f.Close()

	vals = make([][]float64, nd)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < nd+1 {
			return nil, nil, NewIOError("source table %q: expected %d columns, got %d", path, nd+1, len(fields))
		}
		tv, perr := strconv.ParseFloat(fields[0], 64)
		if perr != nil {
			return nil, nil, NewIOError("malformed row in %q: %v", path, perr)
		}
		t = append(t, tv)
		for id := 0; id < nd; id++ {
			v, perr := strconv.ParseFloat(fields[id+1], 64)
			if perr != nil {
				return nil, nil, NewIOError("malformed row in %q: %v", path, perr)
			}
			vals[id] = append(vals[id], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, NewIOError("error reading %q: %v", path, err)
	}
	if len(t) == 0 {
		return nil, nil, NewIOError("source table %q has no data rows", path)
	}
	return t, vals, nil
}

//-------------------------------------------------------------------
// Lookups
//-------------------------------------------------------------------

// EpsLookup returns the emissivity of gas ig in channel id at pressure
// p [hPa], temperature t [K] and column density u [molec/cm^2]: linear
// in log p across the p-grid, linear in t across the bracketing
// t-grids, and linear in log u across the bracketing u-grids (the
// Emissivity Growth Approximation functional form). Returns 0 if the
// gas has no table for this channel.
func (ts *TableStore) EpsLookup(ig, id int, p, t, u float64) float64 {
	tab := ts.Eps[ig][id]
	if tab == nil || len(tab.PNode) == 0 {
		return 0
	}
	np := len(tab.PNode)
	ip := sort.Search(np, func(i int) bool { return tab.PNode[i].P >= p })

	epsAtP := func(pnIdx int) float64 {
		pn := tab.PNode[pnIdx]
		return epsAtTNode(pn.TNode, t, u)
	}

	if ip == 0 {
		return epsAtP(0)
	}
	if ip == np {
		return epsAtP(np - 1)
	}
	if tab.PNode[ip].P == p {
		return epsAtP(ip)
	}

	lo, hi := tab.PNode[ip-1], tab.PNode[ip]
	w := bracketWeightLog(lo.P, hi.P, p)
	eLo := epsAtTNode(lo.TNode, t, u)
	eHi := epsAtTNode(hi.TNode, t, u)
	return lin(eLo, eHi, w)
}

func epsAtTNode(tn []TNode, t, u float64) float64 {
	nt := len(tn)
	if nt == 0 {
		return 0
	}
	it := sort.Search(nt, func(i int) bool { return tn[i].T >= t })

	if it == 0 {
		return epsAtUNode(tn[0].UNode, u)
	}
	if it == nt {
		return epsAtUNode(tn[nt-1].UNode, u)
	}
	if tn[it].T == t {
		return epsAtUNode(tn[it].UNode, u)
	}

	lo, hi := tn[it-1], tn[it]
	w := (t - lo.T) / (hi.T - lo.T)
	eLo := epsAtUNode(lo.UNode, u)
	eHi := epsAtUNode(hi.UNode, u)
	return Clamp(lin(eLo, eHi, w), 0, 1)
}

func epsAtUNode(un []UNode, u float64) float64 {
	nu := len(un)
	if nu == 0 {
		return 0
	}
	iu := sort.Search(nu, func(i int) bool { return un[i].U >= u })

	if iu == 0 {
		return un[0].Eps
	}
	if iu == nu {
		return un[nu-1].Eps
	}
	if un[iu].U == u {
		return un[iu].Eps
	}

	lo, hi := un[iu-1], un[iu]
	w := bracketWeightLog(lo.U, hi.U, u)
	return Clamp(lin(lo.Eps, hi.Eps, w), 0, 1)
}

// bracketWeightLog returns the interpolation weight for x between lo
// and hi, computed in log-space (used for pressure and column
// density, both of which span many decades).
func bracketWeightLog(lo, hi, x float64) float64 {
	llo, lhi, lx := logOrFloor(lo), logOrFloor(hi), logOrFloor(x)
	if lhi == llo {
		return 0
	}
	return (lx - llo) / (lhi - llo)
}

// expLin is the inverse of bracketWeightLog: given a linear weight w
// and endpoints lo, hi, it returns the value whose log lies at that
// weight between log(lo) and log(hi).
func expLin(lo, hi, w float64) float64 {
	llo, lhi := logOrFloor(lo), logOrFloor(hi)
	return expSafe(lin(llo, lhi, w))
}

// ULookup is the inverse of EpsLookup: given pressure p [hPa],
// temperature t [K] and a target emissivity eps, it returns the column
// density u [molec/cm^2] for which EpsLookup(ig, id, p, t, u) returns
// eps exactly when p and t lie on table nodes and approximately
// otherwise (the two lookups average the corners differently),
// mirroring EpsLookup's own bracket-and-interpolate structure (eps is
// monotone non-decreasing in u within each table row, so inversion is
// a direct bracket search rather than iterative root-finding).
// Saturates to the table's largest u if eps exceeds the last tabulated
// value. Returns 0 if the gas has no table for this channel.
func (ts *TableStore) ULookup(ig, id int, p, t, eps float64) float64 {
	tab := ts.Eps[ig][id]
	if tab == nil || len(tab.PNode) == 0 {
		return 0
	}
	np := len(tab.PNode)
	ip := sort.Search(np, func(i int) bool { return tab.PNode[i].P >= p })

	uAtP := func(pnIdx int) float64 {
		pn := tab.PNode[pnIdx]
		return uAtTNode(pn.TNode, t, eps)
	}

	if ip == 0 {
		return uAtP(0)
	}
	if ip == np {
		return uAtP(np - 1)
	}
	if tab.PNode[ip].P == p {
		return uAtP(ip)
	}

	lo, hi := tab.PNode[ip-1], tab.PNode[ip]
	w := bracketWeightLog(lo.P, hi.P, p)
	uLo := uAtTNode(lo.TNode, t, eps)
	uHi := uAtTNode(hi.TNode, t, eps)
	return lin(uLo, uHi, w)
}

func uAtTNode(tn []TNode, t, eps float64) float64 {
	nt := len(tn)
	if nt == 0 {
		return 0
	}
	it := sort.Search(nt, func(i int) bool { return tn[i].T >= t })

	if it == 0 {
		return uAtUNode(tn[0].UNode, eps)
	}
	if it == nt {
		return uAtUNode(tn[nt-1].UNode, eps)
	}
	if tn[it].T == t {
		return uAtUNode(tn[it].UNode, eps)
	}

	lo, hi := tn[it-1], tn[it]
	w := (t - lo.T) / (hi.T - lo.T)
	uLo := uAtUNode(lo.UNode, eps)
	uHi := uAtUNode(hi.UNode, eps)
	return lin(uLo, uHi, w)
}

// uAtUNode inverts epsAtUNode: locate the eps bracket within a u-node
// row and interpolate u in log-space at the linear-in-eps weight,
// saturating to the row's first/last u outside the tabulated range.
func uAtUNode(un []UNode, eps float64) float64 {
	nu := len(un)
	if nu == 0 {
		return 0
	}
	iu := sort.Search(nu, func(i int) bool { return un[i].Eps >= eps })

	if iu == 0 {
		return un[0].U
	}
	if iu == nu {
		return un[nu-1].U
	}
	if un[iu].Eps == eps {
		return un[iu].U
	}

	lo, hi := un[iu-1], un[iu]
	if hi.Eps == lo.Eps {
		return lo.U
	}
	w := (eps - lo.Eps) / (hi.Eps - lo.Eps)
	return expLin(lo.U, hi.U, w)
}

// SrcLookup returns the Planck source-function radiance for channel id
// at temperature t [K], linearly interpolated over the table's
// temperature grid and clamped at the grid boundaries.
func (ts *TableStore) SrcLookup(id int, t float64) float64 {
	nt := len(ts.SrcT)
	if nt == 0 {
		return 0
	}
	it := sort.Search(nt, func(i int) bool { return ts.SrcT[i] >= t })
	if it == 0 {
		return ts.SrcVal[id][0]
	}
	if it == nt {
		return ts.SrcVal[id][nt-1]
	}
	if ts.SrcT[it] == t {
		return ts.SrcVal[id][it]
	}
	w := (t - ts.SrcT[it-1]) / (ts.SrcT[it] - ts.SrcT[it-1])
	return lin(ts.SrcVal[id][it-1], ts.SrcVal[id][it], w)
}

// Planck evaluates the Planck function directly from first principles
// (radiance per unit wavenumber) for a channel centered at nu
// [cm^-1], used by BandRT's surface terms and sky-radiance fallback and
// as a cross-check against the tabulated lookup in tests. The SrcVal
// table is not computed from it: LoadTableStore reads SrcVal from the
// "<base>_planck.tab" file.
func Planck(nu, t float64) float64 {
	if t <= 0 {
		return 0
	}
	x := C2 * nu / t
	if x > 700 {
		return 0
	}
	return C1 * nu * nu * nu / (expSafe(x) - 1)
}
