package main

import (
	"fmt"
	"os"

	"github.com/devtrace/devtrace/trace"
)

var colorEnabled = isTTY(os.Stdout)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
)

// sourceOrder fixes the hue assignment so the same source tag always
// gets the same color across runs, rather than depending on discovery
// order within a single invocation.
var sourceOrder = []trace.Source{
	trace.SourceStdout, trace.SourceStderr, trace.SourceDevice,
	trace.SourceRTT, trace.SourceWS,
}

// sourceColorFor returns a true-color ANSI code for source. Hues are
// distributed evenly around the spectrum, starting away from the
// semantic red/yellow/green used for status coloring.
func sourceColorFor(source trace.Source) string {
	index := 0
	for i, s := range sourceOrder {
		if s == source {
			index = i
			break
		}
	}
	hue := 210.0 + float64(index)*(360.0/float64(len(sourceOrder)))
	for hue >= 360 {
		hue -= 360
	}
	r, g, b := hslToRGB(hue/360.0, 0.65, 0.65)
	return fmt.Sprintf("\033[38;2;%d;%d;%dm", r, g, b)
}

func colorSource(s string, source trace.Source) string {
	if !colorEnabled {
		return s
	}
	return sourceColorFor(source) + s + ansiReset
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	r := hueToRGB(p, q, h+1.0/3.0)
	g := hueToRGB(p, q, h)
	b := hueToRGB(p, q, h-1.0/3.0)
	return uint8(r * 255), uint8(g * 255), uint8(b * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}

func bold(s string) string {
	if !colorEnabled {
		return s
	}
	return ansiBold + s + ansiReset
}

func dim(s string) string {
	if !colorEnabled {
		return s
	}
	return ansiDim + s + ansiReset
}

// colorOutcome colors a terminal-state label green on success, red on
// rejection or timeout, yellow otherwise.
func colorOutcome(label string, successful bool, terminatedBy trace.Terminal) string {
	if !colorEnabled {
		return label
	}
	switch {
	case successful:
		return ansiGreen + label + ansiReset
	case terminatedBy == trace.Rejected || terminatedBy == trace.Timeout:
		return ansiRed + label + ansiReset
	default:
		return ansiYellow + label + ansiReset
	}
}
