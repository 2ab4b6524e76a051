package pipeline

import "strings"

// RTMPMissingMessage is the remediation shown when the GStreamer runtime
// lacks the RTMP publish element.
const RTMPMissingMessage = "RTMP plugin not available (missing librtmp). " +
	"On SteamOS: open Konsole and run: sudo steamos-readonly disable && " +
	"sudo pacman -S rtmpdump && sudo steamos-readonly enable"

// ClassifyPipelineError maps raw pipeline diagnostic text to a short
// user-facing message, or "" when no known signature matches and the caller
// should surface the raw text instead.
func ClassifyPipelineError(diagnostics string) string {
	if diagnostics == "" {
		return ""
	}
	s := strings.ToLower(diagnostics)
	if strings.Contains(s, "rtmpsink") &&
		(strings.Contains(s, "no element") || strings.Contains(s, "erroneous pipeline")) {
		return RTMPMissingMessage
	}
	if strings.Contains(s, "librtmp") || strings.Contains(s, "libgstrtmp") {
		return RTMPMissingMessage
	}
	return ""
}

// connectionErrorIndicators are the stderr substrings the watchdog treats as
// a live connection failure. Matched case-insensitively.
var connectionErrorIndicators = []string{
	"connection refused",
	"could not connect",
	"failed to connect",
	"connection timed out",
	"connection reset",
	"broken pipe",
	"network is unreachable",
	"rtmp connection failed",
	"rtmp2sink",
	"error",
}

// MatchesConnectionError reports whether a stderr line carries one of the
// known connection failure signatures.
func MatchesConnectionError(line string) bool {
	s := strings.ToLower(line)
	for _, indicator := range connectionErrorIndicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
