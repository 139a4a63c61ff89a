package common

import (
	"crypto/rand"
	"strings"
)

func IsSystemTopic(topicName string) bool {
	return len(topicName) >= 1 && topicName[0] == '$'
}

// ContainsWildcard reports whether topic carries a '#' or '+' character.
func ContainsWildcard(topic string) bool {
	return strings.ContainsAny(topic, "#+")
}

// ValidTopicFilter reports whether filter is a well-formed topic filter:
// '#' may only be the whole last level and '+' must fill a whole level.
func ValidTopicFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, lv := range levels {
		if lv == "#" && i != len(levels)-1 {
			return false
		}
		if lv != "#" && lv != "+" && strings.ContainsAny(lv, "#+") {
			return false
		}
	}
	return true
}

// MatchTopic reports whether the concrete topicName matches topicFilter.
// Filters starting with a wildcard never match '$' topics [MQTT-4.7.2-1].
func MatchTopic(topicFilter, topicName string) bool {
	if IsSystemTopic(topicName) && len(topicFilter) > 0 && (topicFilter[0] == '#' || topicFilter[0] == '+') {
		return false
	}
	filterLv := strings.Split(topicFilter, "/")
	nameLv := strings.Split(topicName, "/")
	for i, lv := range filterLv {
		if lv == "#" {
			return true
		}
		if i >= len(nameLv) {
			return false
		}
		if lv != "+" && lv != nameLv[i] {
			return false
		}
	}
	return len(filterLv) == len(nameLv)
}

var nanoIDAlphabet = []rune("_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func NanoID(l ...int) string {
	size := 21
	if len(l) > 0 {
		size = l[0]
	}
	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	id := make([]rune, size)
	for i := 0; i < size; i++ {
		id[i] = nanoIDAlphabet[bytes[i]&63]
	}
	return string(id[:size])
}
