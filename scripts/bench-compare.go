//go:build ignore

// Compares two `go test -bench` outputs and flags regressions. Exits
// nonzero when any benchmark present in both files slowed down by more
// than the threshold.
//
// Usage: go run scripts/bench-compare.go [-threshold 0.20] current.txt baseline.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	threshold = flag.Float64("threshold", 0.20, "fractional slowdown that counts as a regression")
	showAll   = flag.Bool("all", false, "list unchanged benchmarks too")
)

// sample is one benchmark line reduced to the numbers we compare.
type sample struct {
	nsPerOp  float64
	bytesOp  int64
	allocsOp int64
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: bench-compare [flags] current.txt baseline.txt\n")
		flag.PrintDefaults()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	var regressions, improvements, unchanged, added int
	for _, name := range names {
		cur := current[name]
		base, ok := baseline[name]
		if !ok {
			added++
			if *showAll {
				fmt.Printf("%-56s %12.0f ns/op  (no baseline)\n", name, cur.nsPerOp)
			}
			continue
		}

		delta := 0.0
		if base.nsPerOp > 0 {
			delta = (cur.nsPerOp - base.nsPerOp) / base.nsPerOp
		}

		switch {
		case delta > *threshold:
			regressions++
			fmt.Printf("%-56s %12.0f ns/op  was %.0f  %+.1f%%  SLOWER\n",
				name, cur.nsPerOp, base.nsPerOp, delta*100)
		case delta < -*threshold:
			improvements++
			fmt.Printf("%-56s %12.0f ns/op  was %.0f  %+.1f%%  faster\n",
				name, cur.nsPerOp, base.nsPerOp, delta*100)
		default:
			unchanged++
			if *showAll {
				fmt.Printf("%-56s %12.0f ns/op  was %.0f  %+.1f%%\n",
					name, cur.nsPerOp, base.nsPerOp, delta*100)
			}
		}
	}

	fmt.Printf("\n%d compared: %d slower, %d faster, %d within threshold, %d new\n",
		len(names)-added, regressions, improvements, unchanged, added)
	for name := range baseline {
		if _, ok := current[name]; !ok {
			fmt.Printf("missing from current run: %s\n", name)
		}
	}

	if regressions > 0 {
		os.Exit(1)
	}
}

// parseFile collects benchmark samples from one `go test -bench`
// output file, keyed by benchmark name without the GOMAXPROCS suffix.
func parseFile(path string) (map[string]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples := make(map[string]sample)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, s, ok := parseLine(sc.Text())
		if ok {
			samples[name] = s
		}
	}
	return samples, sc.Err()
}

// parseLine reads one line of the form
//
//	BenchmarkName-8   1000   1234 ns/op   567 B/op   8 allocs/op
//
// by pairing each value with the unit token that follows it.
func parseLine(line string) (string, sample, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
		return "", sample{}, false
	}

	name := fields[0]
	if i := strings.LastIndex(name, "-"); i > 0 {
		name = name[:i]
	}

	var s sample
	for i := 2; i+1 < len(fields); i += 2 {
		value, unit := fields[i], fields[i+1]
		switch unit {
		case "ns/op":
			s.nsPerOp, _ = strconv.ParseFloat(value, 64)
		case "B/op":
			s.bytesOp, _ = strconv.ParseInt(value, 10, 64)
		case "allocs/op":
			s.allocsOp, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	if s.nsPerOp == 0 {
		return "", sample{}, false
	}
	return name, s, true
}
