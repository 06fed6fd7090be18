// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Retrieval drives the damped Gauss-Newton (Levenberg-Marquardt)
// iteration that adjusts Atm to minimize a regularized chi-squared fit
// to measured radiances, and the posterior error/information-content
// analysis run afterward. The outer/inner loop structure follows a
// classic damped Gauss-Newton update: a single state vector, a
// damped normal-equations solve each step, and an explicit accept/
// reject branch on whether the step improved the cost.
package radtran

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RetrievalResult bundles the converged state and the (optional)
// posterior error analysis.
type RetrievalResult struct {
	Atm    *Atm
	SimObs *Obs // forward-model radiances at the converged state
	X      []float64
	Iqa, Ipa []int
	M, N     int // measurement count, state vector length

	Iterations int
	Converged  bool
	ChiSqr     float64 // final chi^2/m

	CostHistory []float64

	Sa *mat.SymDense // a priori covariance
	K  *mat.Dense    // final Jacobian

	// Populated only if ctl.ErrAna.
	Sx        *mat.SymDense // posterior covariance
	Cor       *mat.Dense    // correlation matrix
	Gain      *mat.Dense
	Avk       *mat.Dense // averaging kernel
	Dof       float64
	DofByQty  map[int]float64
	ErrNoise  []float64
	ErrFormod []float64
}

// Retrieve runs the Levenberg-Marquardt retrieval of atmPrior (the a
// priori state) against the measured obs, using fwd as the forward
// model.
func Retrieve(ctl *Ctl, tbl *TableStore, fwd ForwardModel, atmPrior *Atm, obsMeas *Obs) (*RetrievalResult, error) {
	defer Timer("retrieval")()

	atm := atmPrior.Clone()
	x, iqa, ipa := Atm2x(ctl, atm)
	n := len(x)
	if n == 0 {
		return nil, NewConfigError("retrieval: no retrieved quantities configured")
	}

	yMeas, _, _ := Obs2y(ctl, obsMeas)
	m := len(yMeas)

	sigEps := measurementSigma(ctl, obsMeas)
	sigNoise, sigFormod := measurementSigmaSplit(ctl, obsMeas)
	saInv, sa := buildSaInv(ctl, atm, iqa, ipa)

	xa := append([]float64(nil), x...)

	gamma := 1e-3
	var K *mat.Dense
	var G *mat.Dense
	var chiOld = math.Inf(1)
	var result = &RetrievalResult{Atm: atm, X: x, Iqa: iqa, Ipa: ipa, Sa: sa, M: m, N: n}

	simObs := obsMeas.Clone()
	stepFailed := false
	failedIt := 0
	for it := 1; it <= ctl.ConvItmax; it++ {
		recompute := it == 1 || it%ctl.KernelRecomp == 0

		if recompute {
			X2atm(ctl, x, atm)
			if err := fwd.Run(ctl, tbl, atm, simObs); err != nil {
				return nil, err
			}
			y0, _, _ := Obs2y(ctl, simObs)

			var err error
			K, err = ComputeJacobian(ctl, tbl, fwd, atm, simObs, x, iqa, ipa, y0)
			if err != nil {
				return nil, err
			}
			G = weightedGramian(K, sigEps)
		}

		X2atm(ctl, x, atm)
		if err := fwd.Run(ctl, tbl, atm, simObs); err != nil {
			return nil, err
		}
		y, _, _ := Obs2y(ctl, simObs)

		dy := subVec(yMeas, y)
		dx := subVec(x, xa)
		chi := chiSqr(dy, sigEps, dx, saInv) / float64(m)
		result.CostHistory = append(result.CostHistory, chi)
		chiOld = chi

		b := normalEquationsRHS(K, sigEps, dy, saInv, dx)

		accepted := false
		var deltaX []float64
		for inner := 0; inner < 20; inner++ {
			A := dampedNormalMatrix(saInv, G, gamma)
			var step mat.VecDense
			chol := mat.Cholesky{}
			if ok := chol.Factorize(A); !ok {
				gamma *= 10
				continue
			}
			if err := chol.SolveVecTo(&step, mat.NewVecDense(n, b)); err != nil {
				gamma *= 10
				continue
			}
			deltaX = make([]float64, n)
			for i := 0; i < n; i++ {
				deltaX[i] = step.AtVec(i)
			}

			xTry := addVec(x, deltaX)
			atmTry := atm.Clone()
			X2atm(ctl, xTry, atmTry)
			simTry := obsMeas.Clone()
			if err := fwd.Run(ctl, tbl, atmTry, simTry); err != nil {
				return nil, err
			}
			yTry, _, _ := Obs2y(ctl, simTry)
			dyTry := subVec(yMeas, yTry)
			dxTry := subVec(xTry, xa)
			chiTry := chiSqr(dyTry, sigEps, dxTry, saInv) / float64(m)

			if math.IsNaN(chiTry) || chiTry > chiOld {
				gamma *= 10
				continue
			}
			gamma /= 10
			x = xTry
			atm = atmTry
			chiOld = chiTry
			accepted = true
			break
		}
		if !accepted {
			// The damped solve never produced an accepted step across every
			// gamma tried; fall back once to the plain undamped WLS step
			// (no a priori regularization) as a last-resort recovery.
			if step, _, err := SolveLS(K, mat.NewVecDense(m, dy), mat.NewDiagDense(m, invSig(sigEps))); err == nil {
				deltaX = vecData(step, n)
				xTry := addVec(x, deltaX)
				atmTry := atm.Clone()
				X2atm(ctl, xTry, atmTry)
				simTry := obsMeas.Clone()
				if err := fwd.Run(ctl, tbl, atmTry, simTry); err == nil {
					yTry, _, _ := Obs2y(ctl, simTry)
					dyTry := subVec(yMeas, yTry)
					dxTry := subVec(xTry, xa)
					chiTry := chiSqr(dyTry, sigEps, dxTry, saInv) / float64(m)
					if !math.IsNaN(chiTry) && chiTry <= chiOld {
						x, atm, chiOld, accepted = xTry, atmTry, chiTry, true
					}
				}
			}
		}
		if !accepted {
			stepFailed = true
			failedIt = it
			break
		}

		disq := dotVec(deltaX, b) / float64(n)
		result.Iterations = it

		if recompute && disq < ctl.ConvDmin {
			result.Converged = true
			break
		}
	}

	if stepFailed {
		return nil, NewNumericalError("retrieval: no acceptable step found at iteration %d (damped solve and undamped fallback both failed)", failedIt)
	}

	X2atm(ctl, x, atm)
	result.Atm = atm
	result.X = x
	result.ChiSqr = chiOld
	result.K = K

	if err := fwd.Run(ctl, tbl, atm, simObs); err != nil {
		return nil, err
	}
	result.SimObs = simObs

	if ctl.ErrAna && K != nil {
		if err := posteriorAnalysis(ctl, result, K, sigEps, sigNoise, sigFormod, saInv, iqa); err != nil {
			return nil, err
		}
	}

	if !result.Converged {
		return result, NewConvergenceWarning("retrieval reached conv_itmax=%d iterations without disq < conv_dmin", ctl.ConvItmax)
	}

	return result, nil
}

//-------------------------------------------------------------------
// Cost function and covariances
//-------------------------------------------------------------------

// measurementSigma returns sigma_eps^2 per measurement entry, combining
// the per-channel noise and forward-model error variances (S_eps is
// diagonal, so only the variance vector is carried, never a full
// matrix).
func measurementSigma(ctl *Ctl, obs *Obs) []float64 {
	m := obs.Nr() * obs.ND
	sig := make([]float64, m)
	for ir := 0; ir < obs.Nr(); ir++ {
		for d := 0; d < obs.ND; d++ {
			row := ir*obs.ND + d
			var sn, sf float64
			if d < len(ctl.ErrNoise) {
				sn = ctl.ErrNoise[d]
			}
			if d < len(ctl.ErrFormod) {
				sf = ctl.ErrFormod[d]
			}
			sig[row] = sn*sn + sf*sf
			if sig[row] <= 0 {
				sig[row] = 1
			}
		}
	}
	return sig
}

// measurementSigmaSplit returns the noise and forward-model variance
// components separately, in the same per-measurement layout as
// measurementSigma, so the posterior error analysis can attribute
// retrieval error to each source individually instead of only to
// their sum.
func measurementSigmaSplit(ctl *Ctl, obs *Obs) (sigNoise, sigFormod []float64) {
	m := obs.Nr() * obs.ND
	sigNoise = make([]float64, m)
	sigFormod = make([]float64, m)
	for ir := 0; ir < obs.Nr(); ir++ {
		for d := 0; d < obs.ND; d++ {
			row := ir*obs.ND + d
			var sn, sf float64
			if d < len(ctl.ErrNoise) {
				sn = ctl.ErrNoise[d]
			}
			if d < len(ctl.ErrFormod) {
				sf = ctl.ErrFormod[d]
			}
			sigNoise[row] = sn * sn
			sigFormod[row] = sf * sf
		}
	}
	return sigNoise, sigFormod
}

// buildSaInv assembles the a priori precision matrix S_a^-1,
// block-diagonal per quantity class with vertical and horizontal
// correlation lengths, then inverted. Off-block-diagonal entries
// (between different quantity classes, e.g. p vs t) are zero: the
// classes are assumed independent a priori.
func buildSaInv(ctl *Ctl, atm *Atm, iqa, ipa []int) (saInv, sa *mat.SymDense) {
	n := len(iqa)
	sa = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if iqa[i] != iqa[j] {
				continue
			}
			sigI, lz, lh := quantitySigmaAndLengths(ctl, iqa[i])
			var corr float64
			if i == j {
				corr = 1
			} else if ipa[i] >= 0 && ipa[j] >= 0 {
				zi, zj := atm.Levels[ipa[i]].Z, atm.Levels[ipa[j]].Z
				loni, lati := atm.Levels[ipa[i]].Lon, atm.Levels[ipa[i]].Lat
				lonj, latj := atm.Levels[ipa[j]].Lon, atm.Levels[ipa[j]].Lat
				dz := math.Abs(zi - zj)
				dGeo := greatCircleKm(loni, lati, lonj, latj)
				corr = math.Exp(-dz/lz) * math.Exp(-dGeo/lh)
			}
			sa.SetSym(i, j, corr*sigI*sigI)
		}
	}

	var chol mat.Cholesky
	var inv mat.SymDense
	if ok := chol.Factorize(sa); !ok {
		return diagonalFallback(ctl, n, iqa)
	}
	if err := chol.InverseTo(&inv); err != nil {
		return diagonalFallback(ctl, n, iqa)
	}
	return &inv, sa
}

// diagonalFallback returns a diagonal-only precision matrix and its
// corresponding (also diagonal) covariance, used when the correlated a
// priori covariance is too near-singular to invert directly (can happen
// with very short correlation lengths relative to the level spacing).
func diagonalFallback(ctl *Ctl, n int, iqa []int) (saInv, sa *mat.SymDense) {
	inv := mat.NewSymDense(n, nil)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sigI, _, _ := quantitySigmaAndLengths(ctl, iqa[i])
		if sigI <= 0 {
			sigI = 1
		}
		inv.SetSym(i, i, 1/(sigI*sigI))
		cov.SetSym(i, i, sigI*sigI)
	}
	return inv, cov
}

func greatCircleKm(lon1, lat1, lon2, lat2 float64) float64 {
	dlat := lat2 - lat1
	dlon := lon2 - lon1
	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return RE * c
}

func quantitySigmaAndLengths(ctl *Ctl, iq int) (sigma, lz, lh float64) {
	switch {
	case iq == QP:
		return ctl.ErrP, 5, 500
	case iq == QT:
		return ctl.ErrT, 5, 500
	case iq >= QQ0 && iq < QQ0+ctl.NG:
		ig := iq - QQ0
		return ctl.ErrQ[ig], ctl.ErrQCz[ig], ctl.ErrQCh[ig]
	default:
		return 1, 5, 500
	}
}

// weightedGramian returns G = K^T S_eps^-1 K.
func weightedGramian(K *mat.Dense, sigEps []float64) *mat.Dense {
	m, n := K.Dims()
	wK := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		w := 1 / sigEps[i]
		for j := 0; j < n; j++ {
			wK.Set(i, j, w*K.At(i, j))
		}
	}
	var G mat.Dense
	G.Mul(K.T(), wK)
	return &G
}

func normalEquationsRHS(K *mat.Dense, sigEps, dy []float64, saInv *mat.SymDense, dx []float64) []float64 {
	m, n := K.Dims()
	kTwDy := make([]float64, n)
	for j := 0; j < n; j++ {
		var s float64
		for i := 0; i < m; i++ {
			s += K.At(i, j) * dy[i] / sigEps[i]
		}
		kTwDy[j] = s
	}
	saDx := mat.NewVecDense(n, nil)
	saDx.MulVec(saInv, mat.NewVecDense(n, dx))
	b := make([]float64, n)
	for j := 0; j < n; j++ {
		b[j] = kTwDy[j] - saDx.AtVec(j)
	}
	return b
}

func dampedNormalMatrix(saInv *mat.SymDense, G *mat.Dense, gamma float64) *mat.SymDense {
	n, _ := saInv.Dims()
	A := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1+gamma)*saInv.At(i, j) + G.At(i, j)
			A.SetSym(i, j, v)
		}
	}
	return A
}

func chiSqr(dy, sigEps, dx []float64, saInv *mat.SymDense) float64 {
	var s float64
	for i, v := range dy {
		s += v * v / sigEps[i]
	}
	n := len(dx)
	saDx := mat.NewVecDense(n, nil)
	saDx.MulVec(saInv, mat.NewVecDense(n, dx))
	for j := 0; j < n; j++ {
		s += dx[j] * saDx.AtVec(j)
	}
	return s
}

//-------------------------------------------------------------------
// Posterior analysis
//-------------------------------------------------------------------

func posteriorAnalysis(ctl *Ctl, res *RetrievalResult, K *mat.Dense, sigEps, sigNoise, sigFormod []float64, saInv *mat.SymDense, iqa []int) error {
	n, _ := saInv.Dims()
	G := weightedGramian(K, sigEps)

	post := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			post.SetSym(i, j, saInv.At(i, j)+G.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(post); !ok {
		return NewNumericalError("posterior analysis: posterior precision matrix is not positive definite")
	}
	var sx mat.SymDense
	if err := chol.InverseTo(&sx); err != nil {
		return NewNumericalError("posterior analysis: covariance inversion failed: %v", err)
	}
	res.Sx = &sx

	cor := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := math.Sqrt(sx.At(i, i) * sx.At(j, j))
			if d == 0 {
				continue
			}
			cor.Set(i, j, sx.At(i, j)/d)
		}
	}
	res.Cor = cor

	m, _ := K.Dims()
	wKt := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			wKt.Set(i, j, K.At(j, i)/sigEps[j])
		}
	}
	var gain mat.Dense
	gain.Mul(&sx, wKt)
	res.Gain = &gain

	var avk mat.Dense
	avk.Mul(&gain, K)
	res.Avk = &avk

	var dof float64
	dofByQty := map[int]float64{}
	for i := 0; i < n; i++ {
		d := avk.At(i, i)
		dof += d
		dofByQty[iqa[i]] += d
	}
	res.Dof = dof
	res.DofByQty = dofByQty

	res.ErrNoise = propagatedVariance(&gain, sigNoise)
	res.ErrFormod = propagatedVariance(&gain, sigFormod)

	return nil
}

// propagatedVariance returns, for each retrieved quantity i, the
// variance sum_k Gain[i,k]^2 * sigma[k] contributed by a measurement
// error source with per-channel variance sigma.
func propagatedVariance(gain *mat.Dense, sigma []float64) []float64 {
	n, m := gain.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for k := 0; k < m; k++ {
			s += SQ(gain.At(i, k)) * sigma[k]
		}
		out[i] = s
	}
	return out
}

//-------------------------------------------------------------------
// Small vector helpers (kept free functions rather than gonum VecDense
// throughout the LM loop, since the loop's arithmetic is simple
// elementwise work where a plain []float64 reads more directly).
//-------------------------------------------------------------------

func subVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func addVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func dotVec(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// invSig returns the elementwise reciprocal of sig, the diagonal weight
// SolveLS expects in place of a full measurement covariance matrix.
func invSig(sig []float64) []float64 {
	out := make([]float64, len(sig))
	for i, v := range sig {
		out[i] = 1 / v
	}
	return out
}

func vecData(v mat.Vector, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.AtVec(i)
	}
	return out
}

//-------------------------------------------------------------------
// Output files
//-------------------------------------------------------------------

// WriteRetrievalOutputs writes atm_final.tab (the converged
// atmosphere), obs_final.tab (the forward-model radiances at that
// atmosphere), costs.tab (the per-iteration cost history) and, if
// ctl.WriteMatrix, matrix_cov_apr.tab/matrix_kernel.tab/
// matrix_cov_ret.tab/matrix_corr.tab/matrix_gain.tab/matrix_avk.tab
// into dir.
func WriteRetrievalOutputs(ctl *Ctl, dir string, res *RetrievalResult) error {
	if err := WriteAtm(dir+"/atm_final.tab", res.Atm); err != nil {
		return err
	}
	if res.SimObs != nil {
		if err := WriteObs(dir+"/obs_final.tab", res.SimObs); err != nil {
			return err
		}
	}
	if err := writeCosts(dir+"/costs.tab", res.CostHistory, res.M, res.N); err != nil {
		return err
	}
	if ctl.WriteMatrix {
		if res.Sa != nil {
			if err := writeMatrixFile(dir+"/matrix_cov_apr.tab", res.Sa); err != nil {
				return err
			}
		}
		if res.K != nil {
			if err := writeMatrixFile(dir+"/matrix_kernel.tab", res.K); err != nil {
				return err
			}
		}
		if res.Sx != nil {
			if err := writeMatrixFile(dir+"/matrix_cov_ret.tab", res.Sx); err != nil {
				return err
			}
			if err := writeMatrixFile(dir+"/matrix_corr.tab", res.Cor); err != nil {
				return err
			}
			if err := writeMatrixFile(dir+"/matrix_gain.tab", res.Gain); err != nil {
				return err
			}
			if err := writeMatrixFile(dir+"/matrix_avk.tab", res.Avk); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeCosts writes the per-iteration cost history with the header
// reproduced verbatim from the reference retrieval driver.
func writeCosts(path string, hist []float64, m, n int) error {
	lines := make([]string, 0, len(hist)+5)
	lines = append(lines,
		"# $1 = iteration number",
		"# $2 = normalized cost function",
		"# $3 = number of measurements",
		"# $4 = number of state vector elements",
		"")
	for i, c := range hist {
		lines = append(lines, fmt.Sprintf("%d %g %d %d", i+1, c, m, n))
	}
	return writeLines(path, lines)
}

func writeMatrixFile(path string, X mat.Matrix) error {
	r, c := X.Dims()
	lines := make([]string, 0, r)
	for i := 0; i < r; i++ {
		row := ""
		for j := 0; j < c; j++ {
			if j > 0 {
				row += " "
			}
			row += fmt.Sprintf("%.8e", X.At(i, j))
		}
		lines = append(lines, row)
	}
	return writeLines(path, lines)
}
