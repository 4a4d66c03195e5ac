package core

import (
	"moodlefetch/lib/restyutil"
	"moodlefetch/lib/telemetry"
)

var tracer = telemetry.Tracer("moodlefetch.lib.scrapers.moodle.core")
var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput routes full HTTP message dumps from every client
// created afterwards to the given output. Used by the CLI's debug mode.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
