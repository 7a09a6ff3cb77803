package gateway

import "strings"

// MatchTopic reports whether an MQTT topic pattern matches a concrete topic.
//
// Pattern semantics follow the MQTT specification:
//   - "+" matches exactly one topic segment: "site/+/telemetry" matches
//     "site/12/telemetry" but not "site/12/dev/telemetry".
//   - "#" matches zero or more trailing segments and is valid only as the
//     final segment: "site/#" matches "site", "site/12", and "site/12/x".
//
// A pattern with "#" anywhere but the last segment matches nothing.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == topic {
		return true
	}

	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")

	for i, seg := range pSegs {
		if seg == "#" {
			// Valid only as the trailing segment.
			return i == len(pSegs)-1
		}
		if i >= len(tSegs) {
			return false
		}
		if seg != "+" && seg != tSegs[i] {
			return false
		}
	}

	return len(pSegs) == len(tSegs)
}
