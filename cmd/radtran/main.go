// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	m "github.com/mkhts/radtran"
)

func main() {
	args, err := parseArgs()
	if err != nil {
		flag.Usage()
		os.Exit(1)
	}

	if err := runApplication(args); err != nil {
		m.PrintE(err)
		os.Exit(1)
	}
}

type cmdOpt struct {
	ctlFn     string
	overrides stringList
	retrieve  bool
	bbt       bool
	dbg       int
	task      string
	reps      int
	dirs      []string
}

// stringList implements flag.Value to collect repeated -D key=value
// overrides, the standard flag.Value pattern for accumulating a
// repeated command-line flag into a slice.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		m.PrintA(`
[Usage]
	%s [Options] ctl_file dir1 [dir2 ...]

Each directory must contain atm.tab (a priori atmosphere) and obs.tab
(measured or simulated radiances). Forward-model-only runs write
obs_sim.tab; retrieval runs additionally write atm_final.tab,
costs.tab and, if -matrix is set, matrix_*.tab.

-task switches to a diagnostic mode instead of a normal forward-model
or retrieval run:
	contrib  per-emitter contribution breakdown, one obs_contrib_<gas>.tab
	         per configured emitter (no extinction-only file is written)
	bench    mean wall-clock time per forward-model call, over -reps repetitions
	step     max radiance difference between the configured ray step and half that step

[Options]
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	flag.Var(&a.overrides, "D", "Control file key=value override. May be repeated.")
	flag.BoolVar(&a.retrieve, "retrieve", false, "Run the retrieval instead of a forward-model-only evaluation.")
	flag.BoolVar(&a.bbt, "bbt", false, "Write brightness temperature instead of radiance (overrides WRITE_BBT).")
	flag.IntVar(&a.dbg, "dbg", 0, "Debug verbosity level.")
	flag.StringVar(&a.task, "task", "", "Diagnostic task to run instead of a normal run: contrib, bench, or step.")
	flag.IntVar(&a.reps, "reps", 10, "Repetitions for -task=bench.")
	flag.Parse()

	if flag.NArg() < 2 {
		return a, fmt.Errorf("ctl_file and at least one directory are required")
	}
	a.ctlFn = flag.Arg(0)
	a.dirs = flag.Args()[1:]
	return a, nil
}

func runApplication(args cmdOpt) error {
	m.DBG_ = args.dbg

	ctl, err := m.ParseCtl(args.ctlFn, args.overrides)
	if err != nil {
		return fmt.Errorf("failed to parse control file: %w", err)
	}
	if args.bbt {
		ctl.WriteBbt = true
	}

	tbl, err := m.LoadTableStore(ctl)
	if err != nil {
		return fmt.Errorf("failed to load tables: %w", err)
	}

	fwd := m.ForwardModel(m.BuiltinForwardModel{})

	for _, dir := range args.dirs {
		if err := processDirectory(ctl, tbl, fwd, dir, args); err != nil {
			m.PrintA("Error processing %s: %s\n", dir, err.Error())
			continue
		}
	}
	return nil
}

func processDirectory(ctl *m.Ctl, tbl *m.TableStore, fwd m.ForwardModel, dir string, args cmdOpt) error {
	atm, err := m.ReadAtm(filepath.Join(dir, "atm.tab"))
	if err != nil {
		return fmt.Errorf("failed to read atmosphere: %w", err)
	}
	obs, err := m.ReadObs(filepath.Join(dir, "obs.tab"))
	if err != nil {
		return fmt.Errorf("failed to read observations: %w", err)
	}

	m.PrintD(1, "--- %s ---\n%s\n", dir, obs.String())

	if args.task != "" {
		return runTask(ctl, tbl, atm, obs, dir, args)
	}

	if !args.retrieve {
		if err := m.Formod(ctl, tbl, atm, obs); err != nil {
			return fmt.Errorf("forward model failed: %w", err)
		}
		return m.WriteObs(filepath.Join(dir, "obs_sim.tab"), obs)
	}

	res, err := m.Retrieve(ctl, tbl, fwd, atm, obs)
	if warn, ok := err.(*m.ConvergenceWarning); ok {
		m.PrintA("%s\n", warn.Error())
	} else if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}
	m.PrintD(1, "converged=%v iterations=%d chi2/m=%.4f dof=%.2f\n", res.Converged, res.Iterations, res.ChiSqr, res.Dof)
	return m.WriteRetrievalOutputs(ctl, dir, res)
}

// runTask dispatches -task=contrib|bench|step to the corresponding
// diagnostic evaluation, mirroring the reference forward-model
// driver's task-mode dispatch ('c'/'t'/'s').
func runTask(ctl *m.Ctl, tbl *m.TableStore, atm *m.Atm, obs *m.Obs, dir string, args cmdOpt) error {
	switch args.task {
	case "contrib":
		return runContribTask(ctl, tbl, atm, obs, dir)
	case "bench":
		mean, err := m.BenchmarkFormod(ctl, tbl, atm, obs, args.reps)
		if err != nil {
			return fmt.Errorf("benchmark failed: %w", err)
		}
		m.PrintA("RUNTIME: mean= %s over %d reps\n", mean, args.reps)
		return nil
	case "step":
		maxDiff, err := m.StepSensitivity(ctl, tbl, atm, obs)
		if err != nil {
			return fmt.Errorf("step-sensitivity analysis failed: %w", err)
		}
		m.PrintA("STEPSIZE: max radiance difference= %g at rayds=%g raydz=%g vs half step\n", maxDiff, ctl.RayDs, ctl.RayDz)
		return nil
	default:
		return fmt.Errorf("unknown -task %q (want contrib, bench, or step)", args.task)
	}
}

// runContribTask writes one obs_contrib_<gas>.tab per configured
// emitter, isolating each gas's contribution to the total radiance.
func runContribTask(ctl *m.Ctl, tbl *m.TableStore, atm *m.Atm, obs *m.Obs, dir string) error {
	contribs, err := m.Contributions(ctl, tbl, atm, obs)
	if err != nil {
		return fmt.Errorf("contribution analysis failed: %w", err)
	}
	for ig, o := range contribs {
		gas := ctl.Emitter[ig]
		path := filepath.Join(dir, fmt.Sprintf("obs_contrib_%s.tab", gas))
		if err := m.WriteObs(path, o); err != nil {
			return err
		}
	}
	return nil
}
