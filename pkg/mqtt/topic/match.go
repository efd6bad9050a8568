package topic

import "strings"

// Match reports whether a concrete topic matches a subscription filter,
// honouring the + and # wildcards. Shared subscription prefixes are ignored.
func Match(filter, topic string) bool {
	filter = StripShare(filter)
	if filter == topic {
		return true
	}

	if !strings.Contains(filter, Wildcard) && !strings.Contains(filter, MultiWildcard) {
		return false
	}

	// Wildcards never match topics starting with '$'.
	if strings.HasPrefix(topic, "$") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == MultiWildcard {
			return i == len(filterParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if part != Wildcard && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// StripShare removes a "$share/<group>/" prefix from a filter.
func StripShare(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
