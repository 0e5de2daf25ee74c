// Package sdr enumerates RTL-SDR dongles and builds dump1090 device selection
// flags. fieldrig never opens the hardware itself.
package sdr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrNoDevices = errors.New("no RTL-SDR devices found")

// DetectTag asks for the dongle to be picked from rtl_test output at startup.
const DetectTag = "detect"

type RTLSDRDevice struct {
	Index  int    `yaml:"index"`
	Serial string `yaml:"serial"`
}

// IsAutoTag reports whether a device selector leaves the choice to dump1090.
func IsAutoTag(tag string) bool {
	t := strings.TrimSpace(strings.ToLower(tag))
	return t == "" || t == "auto"
}

// RunFunc runs a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DetectRTLSDRDevices lists dongles via `rtl_test -t`.
func DetectRTLSDRDevices(ctx context.Context) ([]RTLSDRDevice, error) {
	return Detect(ctx, execRun)
}

// Detect lists dongles using run to invoke rtl_test. rtl_test exits non-zero
// after its test even when it enumerated devices, so output wins over the exit code.
func Detect(ctx context.Context, run RunFunc) ([]RTLSDRDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out, err := run(ctx, "rtl_test", "-t")
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("rtl_test failed: %w", err)
	}
	devs := ParseRTLTestOutput(string(out))
	if len(devs) == 0 {
		return nil, ErrNoDevices
	}
	return devs, nil
}

var rtlTestLineRE = regexp.MustCompile(`(?m)^\s*(\d+):\s+.*?\bSN:\s*([^\s]+)\s*$`)

// ParseRTLTestOutput extracts index and serial pairs, ordered by index.
func ParseRTLTestOutput(out string) []RTLSDRDevice {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	matches := rtlTestLineRE.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return nil
	}
	devs := make([]RTLSDRDevice, 0, len(matches))
	seen := map[int]bool{}
	for _, m := range matches {
		idx, err := strconv.Atoi(strings.TrimSpace(m[1]))
		if err != nil || seen[idx] {
			continue
		}
		seen[idx] = true
		devs = append(devs, RTLSDRDevice{Index: idx, Serial: strings.TrimSpace(m[2])})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Index < devs[j].Index })
	return devs
}

// Pick1090 chooses the dongle for dump1090: the first whose serial mentions 1090,
// otherwise the lowest index.
func Pick1090(devs []RTLSDRDevice) (RTLSDRDevice, bool) {
	if len(devs) == 0 {
		return RTLSDRDevice{}, false
	}
	for _, d := range devs {
		if strings.Contains(strings.ToLower(d.Serial), "1090") {
			return d, true
		}
	}
	return devs[0], true
}

// Selector returns the value dump1090 accepts for --device-index. Serials are
// preferred since indices shift when dongles are replugged.
func (d RTLSDRDevice) Selector() string {
	if s := strings.TrimSpace(d.Serial); s != "" {
		return s
	}
	return strconv.Itoa(d.Index)
}

// UpsertFlagValue sets flag to value in args, handling both "--flag value" and
// "--flag=value". The flag is appended when absent.
func UpsertFlagValue(args []string, flag string, value string) []string {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return args
	}
	for i := range args {
		if strings.HasPrefix(args[i], flag+"=") {
			args[i] = flag + "=" + value
			return args
		}
	}
	for i := 0; i < len(args); i++ {
		if args[i] == flag {
			if i+1 < len(args) {
				args[i+1] = value
				return args
			}
			return append(args, value)
		}
	}
	return append(args, flag, value)
}

// HasAnyFlag reports whether args sets any of flags, as "--flag" or "--flag=...".
func HasAnyFlag(args []string, flags ...string) bool {
	set := map[string]struct{}{}
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = struct{}{}
		}
	}
	for _, a := range args {
		if _, ok := set[a]; ok {
			return true
		}
		if k, _, found := strings.Cut(a, "="); found {
			if _, ok := set[k]; ok {
				return true
			}
		}
	}
	return false
}

// DebugFormatDevices renders devices as "[0:SERIAL, 1:SERIAL]" for logs.
func DebugFormatDevices(devs []RTLSDRDevice) string {
	if len(devs) == 0 {
		return "[]"
	}
	var b bytes.Buffer
	b.WriteString("[")
	for i := range devs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d:%s", devs[i].Index, devs[i].Serial)
	}
	b.WriteString("]")
	return b.String()
}
