package dualpi2

import (
	"strconv"
	"strings"
	"time"
)

// mtu is the per-packet reservation size used by admission (§4.4) and
// by the default byte-budget computation when only a packet count is
// configured.
const mtu = 1500

// Config holds the fully-resolved AQM parameters: the result of
// parsing the wire-format configuration string of §6 and applying the
// defaults of §4.1. NewFromArgs constructs an AQM through ParseConfig,
// so a malformed string is a fatal startup failure, never a silent
// default (§7); New takes an already-built Config as is.
type Config struct {
	ByteLimit   int
	PacketLimit int

	Scheduler      SchedulerKind
	L4SQuantum     int
	ClassicQuantum int

	TargetMS float64
	MaxRTTMS float64
	TupdateMS float64
	Alpha    float64
	Beta     float64

	K float64

	L4SDropOnOverload bool
	RelaxedPPClamp    bool

	L4SMinThresholdUS int64
	L4SRangeMS        int64
}

// DefaultConfig returns the parameter set spec.md §4.1 specifies when
// no configuration string is given at all.
func DefaultConfig() Config {
	c := Config{
		PacketLimit:       10000,
		Scheduler:         SchedStrictPriority,
		L4SQuantum:        mtu,
		ClassicQuantum:    mtu,
		TargetMS:          15,
		MaxRTTMS:          100,
		K:                 2,
		L4SDropOnOverload: true,
	}
	c.ByteLimit = c.PacketLimit * mtu
	c.TupdateMS = defaultTupdateMS
	c.Alpha, c.Beta = gainDefaults(c.TupdateMS, c.MaxRTTMS)
	c.L4SMinThresholdUS = 800
	c.L4SRangeMS = int64(c.TargetMS)
	return c
}

// defaultTupdateMS is the source's hardcoded controller tick period.
// It is a fixed literal, not min(target, max_rtt/3): that formula gives
// 15ms at the reference parameters (target=15ms, max_rtt=100ms), and it
// is not recomputed from whatever target/max_rtt are in effect.
const defaultTupdateMS = 16

// gainDefaults derives alpha/beta per RFC 9332's Tupdate/RTT_max based
// formula, converted to kHz since the controller works in milliseconds.
func gainDefaults(tupdateMS, maxRTTMS float64) (alpha, beta float64) {
	alpha = 0.1 * tupdateMS / (maxRTTMS * maxRTTMS)
	beta = 0.3 / maxRTTMS
	return
}

// ParseConfig parses the whitespace-separated name=value grammar of
// §6 and applies the defaults and overrides of §4.1. Unknown option
// names are accepted and ignored, matching the source's get_arg
// fallback of 0 for anything it doesn't recognize; an empty string
// yields DefaultConfig.
//
// No ecosystem flag/config library in the retrieved pack models this
// embedded, dash-free name=value grammar (urfave/cli and friends
// expect `-flag=value` on an argv, not a single packed string), so
// this parser is hand-rolled stdlib; see DESIGN.md.
func ParseConfig(args string) (Config, error) {
	values := make(map[string]int)
	for _, field := range strings.Fields(args) {
		name, raw, ok := strings.Cut(field, "=")
		if !ok {
			return Config{}, &ConfigError{Field: field, Reason: "missing '='"}
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{Field: field, Reason: "value is not an integer"}
		}
		values[name] = n
	}

	c := DefaultConfig()

	if v, ok := values["packets"]; ok && v != 0 {
		c.PacketLimit = v
		c.ByteLimit = v * mtu
	} else if v, ok := values["bytes"]; ok && v != 0 {
		c.ByteLimit = v
		c.PacketLimit = v / mtu
	}

	if v, ok := values["sched"]; ok {
		c.Scheduler = SchedulerKind(v)
	}
	if v, ok := values["l4s_quantum"]; ok && v != 0 {
		c.L4SQuantum = v
	}
	if v, ok := values["classic_quantum"]; ok && v != 0 {
		c.ClassicQuantum = v
	}
	if v, ok := values["target"]; ok && v != 0 {
		c.TargetMS = float64(v)
	}
	if v, ok := values["max_rtt"]; ok && v != 0 {
		c.MaxRTTMS = float64(v)
	}
	if v, ok := values["tupdate"]; ok && v != 0 {
		c.TupdateMS = float64(v)
	}
	// alpha/beta are gains on the order of 1e-4; since the grammar only
	// carries integers, an override is given in millionths (micro-kHz)
	// rather than whole kHz, e.g. alpha=160 for 0.00016.
	if v, ok := values["alpha"]; ok && v != 0 {
		c.Alpha = float64(v) / 1e6
	}
	if v, ok := values["beta"]; ok && v != 0 {
		c.Beta = float64(v) / 1e6
	}
	if alpha, beta := values["alpha"], values["beta"]; alpha == 0 && beta == 0 {
		c.Alpha, c.Beta = gainDefaults(c.TupdateMS, c.MaxRTTMS)
	}

	// k is fixed at 2 per §4.1, but the Open Question in §9 asks to
	// preserve an override; the source accepts it as a constructor
	// argument and then hardcodes 2 regardless, so an explicit k= here
	// is new behavior this module adds rather than a preserved one.
	if v, ok := values["k"]; ok && v != 0 {
		c.K = float64(v)
	}

	if v, ok := values["l4s_min_us"]; ok {
		c.L4SMinThresholdUS = int64(v)
	}
	if v, ok := values["l4s_range"]; ok && v != 0 {
		c.L4SRangeMS = int64(v)
	} else {
		c.L4SRangeMS = int64(c.TargetMS)
	}

	if _, ok := values["relaxed_pp_clamp"]; ok {
		c.RelaxedPPClamp = values["relaxed_pp_clamp"] != 0
	}
	if v, ok := values["l4s_drop_on_overload"]; ok {
		c.L4SDropOnOverload = v != 0
	}

	return c, nil
}

// Tupdate returns the controller tick period as a time.Duration.
func (c Config) Tupdate() time.Duration {
	return time.Duration(c.TupdateMS * float64(time.Millisecond))
}

// ConfigError reports a malformed configuration-string field. Per §7,
// construction failure is the only error this module surfaces to its
// caller.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "dualpi2: invalid configuration field " + strconv.Quote(e.Field) + ": " + e.Reason
}
