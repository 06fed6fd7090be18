// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// StateMap packs and unpacks the retrieval's state vector x and
// measurement vector y, with provenance arrays (iqa/ipa for x, ida/ira
// for y) recording which quantity and which profile level or ray/
// channel each entry came from. Atm2x/X2atm and Obs2y/Y2obs walk the
// identical canonical order so the mapping is stable across iterations.
package radtran

// Quantity class indices used in iqa. Scalars occupy fixed indices
// after the per-level block.
const (
	QP = iota
	QT
	QQ0 // Q gases occupy QQ0..QQ0+ng-1
)

// QK, QCLZ, QCLDZ, QCLK, QSFT, QSFEPS are computed relative to QQ0 once
// ng is known, since the gas block's width is configuration-dependent.

// Atm2x packs atm into x in the canonical per-level, then-global order,
// honoring ctl's per-quantity retrieval altitude windows, and returns
// the packed vector x (its length is n). iqa[n] records the quantity-class index and
// ipa[n] the profile level index (-1 for scalars) of each entry.
func Atm2x(ctl *Ctl, atm *Atm) (x []float64, iqa, ipa []int) {
	qk0 := QQ0 + ctl.NG

	for li, lv := range atm.Levels {
		if ctl.RetP.Retrieve && inWindow(ctl.RetP, lv.Z) {
			x = append(x, lv.P)
			iqa = append(iqa, QP)
			ipa = append(ipa, li)
		}
		if ctl.RetT.Retrieve && inWindow(ctl.RetT, lv.Z) {
			x = append(x, lv.T)
			iqa = append(iqa, QT)
			ipa = append(ipa, li)
		}
		for ig := 0; ig < ctl.NG; ig++ {
			if ctl.RetQ[ig].Retrieve && inWindow(ctl.RetQ[ig], lv.Z) {
				x = append(x, lv.Q[ig])
				iqa = append(iqa, QQ0+ig)
				ipa = append(ipa, li)
			}
		}
		for iw := 0; iw < ctl.NW; iw++ {
			if ctl.RetK[iw].Retrieve && inWindow(ctl.RetK[iw], lv.Z) {
				x = append(x, lv.K[iw])
				iqa = append(iqa, qk0+iw)
				ipa = append(ipa, li)
			}
		}
	}

	qclz := qk0 + ctl.NW
	qcldz := qclz + 1
	qclk := qcldz + 1
	qsft := qclk + ctl.NCL
	qsfeps := qsft + 1

	if ctl.RetClz {
		x = append(x, atm.Clz)
		iqa = append(iqa, qclz)
		ipa = append(ipa, -1)
	}
	if ctl.RetCldz {
		x = append(x, atm.Cldz)
		iqa = append(iqa, qcldz)
		ipa = append(ipa, -1)
	}
	if ctl.RetClk {
		for i := 0; i < ctl.NCL; i++ {
			x = append(x, atm.Clk[i])
			iqa = append(iqa, qclk+i)
			ipa = append(ipa, -1)
		}
	}
	if ctl.RetSft {
		x = append(x, atm.Sft)
		iqa = append(iqa, qsft)
		ipa = append(ipa, -1)
	}
	if ctl.RetSfeps {
		for i := 0; i < ctl.NSF; i++ {
			x = append(x, atm.Sfeps[i])
			iqa = append(iqa, qsfeps+i)
			ipa = append(ipa, -1)
		}
	}
	return x, iqa, ipa
}

// X2atm is Atm2x's inverse: it walks the same canonical order and
// writes x's entries back into atm, which must already hold the a
// priori state so that non-retrieved fields are preserved unchanged.
func X2atm(ctl *Ctl, x []float64, atm *Atm) {
	idx := 0

	for li := range atm.Levels {
		lv := &atm.Levels[li]
		if ctl.RetP.Retrieve && inWindow(ctl.RetP, lv.Z) {
			lv.P = x[idx]
			idx++
		}
		if ctl.RetT.Retrieve && inWindow(ctl.RetT, lv.Z) {
			lv.T = x[idx]
			idx++
		}
		for ig := 0; ig < ctl.NG; ig++ {
			if ctl.RetQ[ig].Retrieve && inWindow(ctl.RetQ[ig], lv.Z) {
				lv.Q[ig] = x[idx]
				idx++
			}
		}
		for iw := 0; iw < ctl.NW; iw++ {
			if ctl.RetK[iw].Retrieve && inWindow(ctl.RetK[iw], lv.Z) {
				lv.K[iw] = x[idx]
				idx++
			}
		}
	}

	if ctl.RetClz {
		atm.Clz = x[idx]
		idx++
	}
	if ctl.RetCldz {
		atm.Cldz = x[idx]
		idx++
	}
	if ctl.RetClk {
		for i := 0; i < ctl.NCL; i++ {
			atm.Clk[i] = x[idx]
			idx++
		}
	}
	if ctl.RetSft {
		atm.Sft = x[idx]
		idx++
	}
	if ctl.RetSfeps {
		for i := 0; i < ctl.NSF; i++ {
			atm.Sfeps[i] = x[idx]
			idx++
		}
	}
	atm.ClampPhysical()
}

func inWindow(w ZWindow, z float64) bool { return z >= w.Zmin && z <= w.Zmax }

// Obs2y packs obs into y: for each ray, for each channel, one entry
// rad[d][r] (brightness temperature if ctl.WriteBbt, already applied by
// Formod). ida[m] records the channel index and ira[m] the ray index
// of each entry.
func Obs2y(ctl *Ctl, obs *Obs) (y []float64, ida, ira []int) {
	m := obs.Nr() * obs.ND
	y = make([]float64, 0, m)
	ida = make([]int, 0, m)
	ira = make([]int, 0, m)
	for ir, r := range obs.Rays {
		for d := 0; d < obs.ND; d++ {
			y = append(y, r.Rad[d])
			ida = append(ida, d)
			ira = append(ira, ir)
		}
	}
	return y, ida, ira
}

// Y2obs is Obs2y's inverse, used to seed a simulated observation set
// from a synthesized measurement vector (e.g. in end-to-end retrieval
// tests that synthesize y from a known truth atmosphere).
func Y2obs(ctl *Ctl, y []float64, obs *Obs) {
	idx := 0
	for ir := range obs.Rays {
		for d := 0; d < obs.ND; d++ {
			obs.Rays[ir].Rad[d] = y[idx]
			idx++
		}
	}
}
