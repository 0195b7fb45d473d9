/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package device

import (
	"regexp"
	"strconv"
	"strings"
)

// LineKind tags the classification of one inbound protocol line.
type LineKind int

const (
	// LineCorrelated carries an explicit correlation id from a REQ command.
	LineCorrelated LineKind = iota
	// LineUncorrelated is an immediate status line with a numeric code but
	// no explicit correlation marker.
	LineUncorrelated
	// LineUnrecognized did not match any known shape.
	LineUnrecognized
)

// ResponseLine is one classified inbound line.
type ResponseLine struct {
	Kind          LineKind
	CorrelationID string
	Code          int
	Payload       string
	Raw           string
}

// Ok reports whether the status code denotes command success.
func (l ResponseLine) Ok() bool {
	return l.Code >= 200 && l.Code < 400
}

// correlationIDPattern matches the id tokens generated by nextCorrelationID.
// Immediate status lines are scanned for such a token as a best-effort match
// against pending requests; the source protocol gives no stronger signal.
var correlationIDPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// classifyLine parses one complete, terminator-stripped protocol line.
//
// Correlated responses have the shape "RSP <id> <code> <payload...>".
// Immediate status lines start with a numeric code: "<code> <message...>".
// Anything else is unrecognized and surfaced raw.
func classifyLine(raw string) ResponseLine {
	line := strings.TrimSpace(raw)
	if line == "" {
		return ResponseLine{Kind: LineUnrecognized, Raw: raw}
	}

	fields := strings.Fields(line)

	if fields[0] == "RSP" && len(fields) >= 3 {
		code, err := strconv.Atoi(fields[2])
		if err == nil && correlationIDPattern.MatchString(fields[1]) {
			return ResponseLine{
				Kind:          LineCorrelated,
				CorrelationID: fields[1],
				Code:          code,
				Payload:       strings.Join(fields[3:], " "),
				Raw:           raw,
			}
		}
	}

	if code, err := strconv.Atoi(fields[0]); err == nil && code >= 100 && code < 600 {
		rl := ResponseLine{
			Kind:    LineUncorrelated,
			Code:    code,
			Payload: strings.Join(fields[1:], " "),
			Raw:     raw,
		}
		// Some firmware echoes the request id somewhere in the payload
		// instead of using the RSP marker. Scan for an id-shaped token so
		// the response can still reach its requester.
		for _, tok := range fields[1:] {
			if correlationIDPattern.MatchString(tok) {
				rl.CorrelationID = tok
				break
			}
		}
		return rl
	}

	return ResponseLine{Kind: LineUnrecognized, Raw: raw}
}
