package trust

import (
	"fmt"
	"os"
	"strings"
)

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80
)

var level = fatalMask | ErrorMask | WarnMask | InfoMask

// Sink receives every message that survives the mask.  depth is the number
// of stack frames between the sink and the caller of Errorf etc, so a sink
// that records file:line can skip trust itself.
type Sink interface {
	Output(l MaskLevel, depth int, msg string)
}

var sink Sink = KlogSink{}

// exit is swapped out by tests of Fatalf.
var exit = os.Exit

// SetSink replaces the output of the package and returns the previous one.
// A nil sink restores the klog default.
func SetSink(s Sink) Sink {
	prev := sink
	if s == nil {
		s = KlogSink{}
	}
	sink = s
	return prev
}

// SetLevel lets you set an error mask directly. You can pass in something like
// ErrorMask | DebugMask to control exactly what gets printed.  It returns the
// previous mask.  Like a log level, turning on a level also turns on the ones
// below it in the list (error is the least verbose).
func SetLevel(mask MaskLevel) MaskLevel {
	if mask&0x1f == 0 {
		logf(WarnMask, 1, "trust.SetLevel is turning off log messages")
	}
	result := Nothing
	switch {
	case mask&StatsMask > 0:
		result |= StatsMask
		fallthrough
	case mask&DebugMask > 0:
		result |= DebugMask
		fallthrough
	case mask&InfoMask > 0:
		result |= InfoMask
		fallthrough
	case mask&WarnMask > 0:
		result |= WarnMask
		fallthrough
	case mask&ErrorMask > 0:
		result |= ErrorMask
	}
	r := level & 0x1f
	level = result | fatalMask
	return r
}

func Level() MaskLevel {
	return level
}

// Enabled is true when a message at l would be emitted.  Use it to skip
// building expensive log arguments.
func Enabled(l MaskLevel) bool {
	return level&l != 0
}

func LevelToString() string {
	var parts []string
	if level&ErrorMask > 0 {
		parts = append(parts, "error")
	}
	if level&WarnMask > 0 {
		parts = append(parts, "warn")
	}
	if level&InfoMask > 0 {
		parts = append(parts, "info")
	}
	if level&DebugMask > 0 {
		parts = append(parts, "debug")
	}
	if level&StatsMask > 0 {
		parts = append(parts, "stats")
	}
	return strings.Join(parts, " ")
}

// ParseLevel is the inverse of LevelToString, for flags.  The names can be
// separated by spaces or commas.
func ParseLevel(s string) (MaskLevel, error) {
	result := Nothing
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' }) {
		switch strings.ToLower(f) {
		case "error":
			result |= ErrorMask
		case "warn":
			result |= WarnMask
		case "info":
			result |= InfoMask
		case "debug":
			result |= DebugMask
		case "stats":
			result |= StatsMask
		case "none":
		default:
			return Nothing, fmt.Errorf("unknown log level %q", f)
		}
	}
	return result, nil
}

func logf(l MaskLevel, depth int, format string, params ...interface{}) {
	if level&l == 0 {
		return
	}
	msg := fmt.Sprintf(format, params...)
	msg = strings.TrimSuffix(msg, "\n")
	sink.Output(l, depth+2, msg)
}

//Fatalf prints the given log message (format + params) and then
//exits with the exitCode provided.  Fatalf is not maskable.
func Fatalf(exitCode int, format string, params ...interface{}) {
	logf(fatalMask, 0, format, params...)
	if f, ok := sink.(interface{ Flush() }); ok {
		f.Flush()
	}
	exit(exitCode)
}

//Errorf prints the given log message (format + params) using the ErrorMask level.
func Errorf(format string, params ...interface{}) {
	logf(ErrorMask, 0, format, params...)
}

//Warnf prints the given log message (format + params) using the WarnMask level.
func Warnf(format string, params ...interface{}) {
	logf(WarnMask, 0, format, params...)
}

//Infof prints the given log message (format + params) using the InfoMask level.
func Infof(format string, params ...interface{}) {
	logf(InfoMask, 0, format, params...)
}

//Debugf prints the given log message (format + params) using the DebugMask level.
func Debugf(format string, params ...interface{}) {
	logf(DebugMask, 0, format, params...)
}

//Statsf prints the given log message (format + params) using the StatsMask level and
//takes an extra parameter that will be visible in the log message as the category
//of stats that is reported.
func Statsf(category string, format string, params ...interface{}) {
	logf(StatsMask, 0, "STATS[%s]: "+format, append([]interface{}{category}, params...)...)
}
