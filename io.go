// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

// Io holds the ASCII readers and writers for atmosphere and observation
// files: one data row per profile level or ray, whitespace-separated,
// comment lines prefixed with '#'. Each reader scans non-comment lines
// first, then parses fields into floats, rather than parsing inline
// while scanning.
package radtran

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadAtm reads an atmosphere file: a header line "NG ND NW NCL NSF",
// then one row per profile level: "time z lon lat p t q[0..ng-1]
// k[0..nw-1]", then a trailer line "clz cldz clk[0..ncl-1] sft
// sfeps[0..nsf-1]".
func ReadAtm(path string) (*Atm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIOError("cannot open atmosphere file %q: %v", path, err)
	}
	defer f.Close()

	lines, err := scanDataLines(f)
	if err != nil {
		return nil, NewIOError("error reading %q: %v", path, err)
	}
	if len(lines) < 2 {
		return nil, NewIOError("atmosphere file %q is too short", path)
	}

	hdr := strings.Fields(lines[0])
	if len(hdr) != 5 {
		return nil, NewIOError("atmosphere file %q: malformed header", path)
	}
	dims, err := parseInts(hdr)
	if err != nil {
		return nil, NewIOError("atmosphere file %q: %v", path, err)
	}
	ng, nw, ncl, nsf := dims[0], dims[2], dims[3], dims[4]

	atm := NewAtm(ng, nw, ncl, nsf)

	nLevels := len(lines) - 2
	for i := 0; i < nLevels; i++ {
		fields := strings.Fields(lines[1+i])
		want := 6 + ng + nw
		if len(fields) != want {
			return nil, NewIOError("atmosphere file %q: level row %d has %d fields, want %d", path, i, len(fields), want)
		}
		vals, err := parseFloats(fields)
		if err != nil {
			return nil, NewIOError("atmosphere file %q: %v", path, err)
		}
		lv := AtmLevel{
			Time: vals[0], Z: vals[1], Lon: vals[2], Lat: vals[3], P: vals[4], T: vals[5],
			Q: append([]float64(nil), vals[6:6+ng]...),
			K: append([]float64(nil), vals[6+ng:6+ng+nw]...),
		}
		atm.AddLevel(lv)
	}

	trailer := strings.Fields(lines[len(lines)-1])
	want := 2 + ncl + 1 + nsf
	if len(trailer) != want {
		return nil, NewIOError("atmosphere file %q: trailer has %d fields, want %d", path, len(trailer), want)
	}
	tvals, err := parseFloats(trailer)
	if err != nil {
		return nil, NewIOError("atmosphere file %q: %v", path, err)
	}
	atm.Clz = tvals[0]
	atm.Cldz = tvals[1]
	atm.Clk = append([]float64(nil), tvals[2:2+ncl]...)
	atm.Sft = tvals[2+ncl]
	atm.Sfeps = append([]float64(nil), tvals[3+ncl:3+ncl+nsf]...)

	atm.ClampPhysical()
	return atm, nil
}

// WriteAtm writes atm in the format ReadAtm parses.
func WriteAtm(path string, atm *Atm) error {
	lines := make([]string, 0, atm.Np()+2)
	lines = append(lines, fmt.Sprintf("%d %d %d %d %d", atm.NG, 0, atm.NW, atm.NCL, atm.NSF))
	for _, lv := range atm.Levels {
		row := fmt.Sprintf("%.6f %.6f %.8f %.8f %.6e %.4f", lv.Time, lv.Z, lv.Lon, lv.Lat, lv.P, lv.T)
		row += " " + joinFloats(lv.Q) + " " + joinFloats(lv.K)
		lines = append(lines, row)
	}
	trailer := fmt.Sprintf("%.4f %.4f %s %.4f %s", atm.Clz, atm.Cldz, joinFloats(atm.Clk), atm.Sft, joinFloats(atm.Sfeps))
	lines = append(lines, trailer)
	return writeLines(path, lines)
}

// ReadObs reads an observation file: a header line "ND NR", then one
// row per ray: "time obsz obslon obslat vpz vplon vplat tpz tplon tplat
// rad[0..nd-1] tau[0..nd-1]".
func ReadObs(path string) (*Obs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIOError("cannot open observation file %q: %v", path, err)
	}
	defer f.Close()

	lines, err := scanDataLines(f)
	if err != nil {
		return nil, NewIOError("error reading %q: %v", path, err)
	}
	if len(lines) < 1 {
		return nil, NewIOError("observation file %q is empty", path)
	}

	hdr := strings.Fields(lines[0])
	if len(hdr) != 2 {
		return nil, NewIOError("observation file %q: malformed header", path)
	}
	dims, err := parseInts(hdr)
	if err != nil {
		return nil, NewIOError("observation file %q: %v", path, err)
	}
	nd, nr := dims[0], dims[1]

	obs := NewObs(nr, nd)
	for i := 0; i < nr; i++ {
		if 1+i >= len(lines) {
			return nil, NewIOError("observation file %q: expected %d rays, found %d", path, nr, i)
		}
		fields := strings.Fields(lines[1+i])
		want := 10 + 2*nd
		if len(fields) != want {
			return nil, NewIOError("observation file %q: ray row %d has %d fields, want %d", path, i, len(fields), want)
		}
		vals, err := parseFloats(fields)
		if err != nil {
			return nil, NewIOError("observation file %q: %v", path, err)
		}
		r := &obs.Rays[i]
		r.Time = vals[0]
		r.ObsZ, r.ObsLon, r.ObsLat = vals[1], vals[2], vals[3]
		r.VpZ, r.VpLon, r.VpLat = vals[4], vals[5], vals[6]
		r.TpZ, r.TpLon, r.TpLat = vals[7], vals[8], vals[9]
		copy(r.Rad, vals[10:10+nd])
		copy(r.Tau, vals[10+nd:10+2*nd])
	}
	return obs, nil
}

// WriteObs writes obs in the format ReadObs parses.
func WriteObs(path string, obs *Obs) error {
	lines := make([]string, 0, obs.Nr()+1)
	lines = append(lines, fmt.Sprintf("%d %d", obs.ND, obs.Nr()))
	for _, r := range obs.Rays {
		row := fmt.Sprintf("%.6f %.6f %.8f %.8f %.6f %.8f %.8f %.6f %.8f %.8f",
			r.Time, r.ObsZ, r.ObsLon, r.ObsLat, r.VpZ, r.VpLon, r.VpLat, r.TpZ, r.TpLon, r.TpLat)
		row += " " + joinFloats(r.Rad) + " " + joinFloats(r.Tau)
		lines = append(lines, row)
	}
	return writeLines(path, lines)
}

//-------------------------------------------------------------------
// Shared scan/parse/write helpers
//-------------------------------------------------------------------

func scanDataLines(f *os.File) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	sc.Buffer(buf, 1<<24)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, s, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, s := range fields {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, s, err)
		}
		out[i] = v
	}
	return out, nil
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'e', 8, 64)
	}
	return strings.Join(parts, " ")
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return NewIOError("cannot create %q: %v", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			return NewIOError("error writing %q: %v", path, err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			return NewIOError("error writing %q: %v", path, err)
		}
	}
	return w.Flush()
}
