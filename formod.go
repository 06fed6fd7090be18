// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Formod drives the forward model: per-ray raytrace+BandRT evaluation,
// optionally in parallel across goroutines, with FOV convolution and
// brightness-temperature post-processing. Its fan-out-and-join shape
// is the plain goroutines + sync.WaitGroup pattern over independent
// per-ray work, with no worker-pool library involved.
package radtran

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ForwardModel abstracts the forward-model call Jacobian and Retrieval
// drive: the built-in Formod, or an external UNIFIED engine linked in
// by the caller.
type ForwardModel interface {
	Run(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error
}

// BuiltinForwardModel is the default ForwardModel backed by Formod.
type BuiltinForwardModel struct{}

func (BuiltinForwardModel) Run(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error {
	return Formod(ctl, tbl, atm, obs)
}

// numWorkers returns the configured goroutine fan-out: RADTRAN_NUM_THREADS
// if set, falling back to OMP_NUM_THREADS (so an environment already
// set up for an OpenMP-parallel tool still works unmodified), falling
// back to GOMAXPROCS.
func numWorkers() int {
	for _, key := range []string{"RADTRAN_NUM_THREADS", "OMP_NUM_THREADS"} {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return runtime.GOMAXPROCS(0)
}

// Formod evaluates the forward model for every ray in obs, filling
// obs.Rays[ir].Rad/Tau in place. Rays are independent and are fanned
// out across numWorkers() goroutines; each worker owns private LOS
// buffers via its own Raytracer call, so no ray-to-ray synchronization
// beyond the final join is required.
func Formod(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error {
	if len(ctl.Fov) > 1 {
		return formodFOV(ctl, tbl, atm, obs)
	}
	return formodPencil(ctl, tbl, atm, obs)
}

func formodPencil(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error {
	rt := NewRaytracer(ctl, atm)
	nr := obs.Nr()
	nw := numWorkers()
	if nw > nr {
		nw = nr
	}
	if nw < 1 {
		nw = 1
	}

	var wg sync.WaitGroup
	errCh := make(chan error, nr)
	jobs := make(chan int, nr)
	for ir := 0; ir < nr; ir++ {
		jobs <- ir
	}
	close(jobs)

	defer Timer("formod")()

	for w := 0; w < nw; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ir := range jobs {
				los, err := rt.Trace(&obs.Rays[ir])
				if err != nil {
					errCh <- err
					continue
				}
				if err := RunBandRT(ctl, tbl, atm, los, &obs.Rays[ir]); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// formodFOV produces len(ctl.Fov) synthetic pencil-beam rays per
// configured ray, offset in view altitude by the shape weights' implicit
// offset grid, and convolves the resulting radiances and transmittances
// by ctl.Fov.
func formodFOV(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) error {
	n := len(ctl.Fov)
	offsets := fovOffsets(ctl, n)

	nd := obs.ND
	acc := make([][]float64, obs.Nr())
	accTau := make([][]float64, obs.Nr())
	for i := range acc {
		acc[i] = make([]float64, nd)
		accTau[i] = make([]float64, nd)
	}

	// Sub-rays stay in radiance; the brightness-temperature conversion is
	// applied once, after the convolution.
	raw := *ctl
	raw.WriteBbt = false

	for i := 0; i < n; i++ {
		sub := obs.Clone()
		for ir := range sub.Rays {
			sub.Rays[ir].VpZ += offsets[i]
		}
		if err := formodPencil(&raw, tbl, atm, sub); err != nil {
			return err
		}
		w := ctl.Fov[i]
		for ir := range sub.Rays {
			for d := 0; d < nd; d++ {
				acc[ir][d] += w * sub.Rays[ir].Rad[d]
				accTau[ir][d] += w * sub.Rays[ir].Tau[d]
			}
		}
	}

	for ir := range obs.Rays {
		copy(obs.Rays[ir].Rad, acc[ir])
		copy(obs.Rays[ir].Tau, accTau[ir])
	}

	if ctl.WriteBbt {
		for ir := range obs.Rays {
			for d := 0; d < nd; d++ {
				obs.Rays[ir].Rad[d] = Bright(obs.Rays[ir].Rad[d], ctl.Nu[d])
			}
		}
	}
	return nil
}

// fovOffsets spreads n synthetic rays symmetrically about the nominal
// view altitude, one raydz apart, a balanced perturbation about the
// center rather than an asymmetric one-sided spread.
func fovOffsets(ctl *Ctl, n int) []float64 {
	off := make([]float64, n)
	mid := n / 2
	for i := 0; i < n; i++ {
		off[i] = float64(i-mid) * ctl.RayDz
	}
	return off
}

//-------------------------------------------------------------------
// Contributions and diagnostic modes
//-------------------------------------------------------------------

// Contributions runs the forward model once per emitter, zeroing all
// other gases' mixing ratios each time, to isolate each gas's
// contribution to the total radiance. It returns one Obs per configured
// gas, in Ctl.Emitter order.
func Contributions(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) ([]*Obs, error) {
	out := make([]*Obs, ctl.NG)
	for ig := 0; ig < ctl.NG; ig++ {
		a := atm.Clone()
		for li := range a.Levels {
			for g := range a.Levels[li].Q {
				if g != ig {
					a.Levels[li].Q[g] = 0
				}
			}
		}
		o := obs.Clone()
		if err := Formod(ctl, tbl, a, o); err != nil {
			return nil, err
		}
		out[ig] = o
	}
	return out, nil
}

// BenchmarkFormod runs Formod reps times and returns the mean wall-clock
// duration per call, used by the CPU-time benchmarking mode.
func BenchmarkFormod(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs, reps int) (time.Duration, error) {
	if reps < 1 {
		reps = 1
	}
	start := time.Now()
	for i := 0; i < reps; i++ {
		o := obs.Clone()
		if err := Formod(ctl, tbl, atm, o); err != nil {
			return 0, err
		}
	}
	return time.Since(start) / time.Duration(reps), nil
}

// StepSensitivity evaluates Formod at the configured ray step (rayds,
// raydz) and at a halved step, returning the maximum per-channel,
// per-ray radiance difference — a diagnostic for choosing ray step
// sizes fine enough that the result no longer depends on them.
func StepSensitivity(ctl *Ctl, tbl *TableStore, atm *Atm, obs *Obs) (float64, error) {
	coarse := obs.Clone()
	if err := Formod(ctl, tbl, atm, coarse); err != nil {
		return 0, err
	}

	fine := *ctl
	fine.RayDs /= 2
	fine.RayDz /= 2
	fineObs := obs.Clone()
	if err := Formod(&fine, tbl, atm, fineObs); err != nil {
		return 0, err
	}

	var maxDiff float64
	for ir := range coarse.Rays {
		for d := 0; d < coarse.ND; d++ {
			diff := coarse.Rays[ir].Rad[d] - fineObs.Rays[ir].Rad[d]
			if diff < 0 {
				diff = -diff
			}
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	return maxDiff, nil
}
