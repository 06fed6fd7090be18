// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.9.21
//

package radtran

import "time"

// epoch is the reference instant for jsec-based timestamps: 2000-01-01T00:00:00Z,
// matching the tab-file header convention ("time (seconds since 2000-01-01T00:00Z)").
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Jsec2Time converts seconds since the epoch to a UTC time.Time.
func Jsec2Time(jsec float64) time.Time {
	sec := int64(jsec)
	nsec := int64((jsec - float64(sec)) * 1e9)
	return epoch.Add(time.Duration(sec)*time.Second + time.Duration(nsec))
}

// Time2Jsec converts a time.Time to seconds since the epoch.
func Time2Jsec(t time.Time) float64 {
	return t.Sub(epoch).Seconds()
}
