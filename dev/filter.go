package dev

import (
	"bytes"
	"regexp"
)

// FilterTable stores line filters stripping volatile configuration lines, so
// a timestamp or uptime banner does not defeat unchanged-capture dedup.
type FilterTable struct {
	table map[string]FilterFunc

	reTimestamp *regexp.Regexp // Thu Feb 11 15:45:43.545 BRST
	reBuilding  *regexp.Regexp // Building configuration...
	reCurrent   *regexp.Regexp // Current configuration : 8755 bytes
	reLastChg   *regexp.Regexp // ! Last configuration change at ...
	reXRLastChg *regexp.Regexp // !! Last configuration change at ...
	reNvram     *regexp.Regexp // ! NVRAM config last updated at ...
	reUptime    *regexp.Regexp // asr9010 uptime is 9 years, 2 weeks, ...
}

// FilterFunc rewrites one configuration line; an empty result drops the line.
type FilterFunc func(logger hasPrintf, debug bool, table *FilterTable, line []byte, lineNum int) []byte

// NewFilterTable creates a filter table with the built-in filters.
func NewFilterTable(logger hasPrintf) *FilterTable {
	t := &FilterTable{
		table:       map[string]FilterFunc{},
		reTimestamp: regexp.MustCompile(`^\w{3}\s\w{3}\s\d{1,2}\s`),
		reBuilding:  regexp.MustCompile(`^Building`),
		reCurrent:   regexp.MustCompile(`^Current configuration`),
		reLastChg:   regexp.MustCompile(`^! Last`),
		reXRLastChg: regexp.MustCompile(`^!! Last`),
		reNvram:     regexp.MustCompile(`^! NVRAM`),
		reUptime:    regexp.MustCompile(`^\w+ uptime is `),
	}
	registerFilters(logger, t.table)
	return t
}

func register(logger hasPrintf, table map[string]FilterFunc, name string, f FilterFunc) {
	logger.Printf("line filter registered: '%s'", name)
	table[name] = f
}

func registerFilters(logger hasPrintf, table map[string]FilterFunc) {
	register(logger, table, "cisco", filterCisco)
	register(logger, table, "iosxr", filterIOSXR)
	register(logger, table, "noop", filterNoop)
	register(logger, table, "drop", filterDrop)
}

func filterDrop(logger hasPrintf, debug bool, table *FilterTable, line []byte, lineNum int) []byte {
	return []byte{}
}

func filterNoop(logger hasPrintf, debug bool, table *FilterTable, line []byte, lineNum int) []byte {
	return line
}

/*
Building configuration...
Current configuration : 8755 bytes
! Last configuration change at 10:11:12 UTC Mon Mar 1 2021 by admin
! NVRAM config last updated at 10:11:40 UTC Mon Mar 1 2021 by admin
*/
func filterCisco(logger hasPrintf, debug bool, table *FilterTable, line []byte, lineNum int) []byte {

	for _, re := range []*regexp.Regexp{table.reBuilding, table.reCurrent, table.reLastChg, table.reNvram} {
		if re.Match(line) {
			if debug {
				logger.Printf("filterCisco: drop: [%s]", string(line))
			}
			return []byte{}
		}
	}

	return line
}

/*
Thu Feb 11 15:45:43.545 BRST
Building configuration...
!! IOS XR Configuration 5.1.3
!! Last configuration change at Tue Jan 26 16:40:46 2016 by user
asr9010 uptime is 9 years, 2 weeks, 5 days, 20 hours, 3 minutes
*/
func filterIOSXR(logger hasPrintf, debug bool, table *FilterTable, line []byte, lineNum int) []byte {

	for _, re := range []*regexp.Regexp{table.reTimestamp, table.reBuilding, table.reXRLastChg, table.reUptime} {
		if re.Match(line) {
			if debug {
				logger.Printf("filterIOSXR: drop: [%s]", string(line))
			}
			return []byte{}
		}
	}

	return line
}

// Apply runs the named filter over every line of a capture. An unknown or
// empty filter name leaves the capture untouched.
func (t *FilterTable) Apply(logger hasPrintf, name string, buf []byte, debug bool) []byte {

	if name == "" {
		return buf
	}

	f, found := t.table[name]
	if !found {
		logger.Printf("FilterTable.Apply: filter not found: '%s'", name)
		return buf
	}

	lines := bytes.SplitAfter(buf, []byte("\n"))

	out := make([]byte, 0, len(buf))
	for i, line := range lines {
		hasLF := bytes.HasSuffix(line, []byte("\n"))
		body := bytes.TrimSuffix(line, []byte("\n"))
		body = bytes.TrimSuffix(body, []byte("\r"))

		filtered := f(logger, debug, t, body, i+1)
		if len(filtered) == 0 && len(body) != 0 {
			continue // line dropped by filter
		}

		out = append(out, filtered...)
		if hasLF {
			out = append(out, '\n')
		}
	}

	return out
}
