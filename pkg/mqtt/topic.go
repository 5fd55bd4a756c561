package mqtt

import "strings"

// TopicMatches reports whether an MQTT topic matches a subscription
// pattern containing the usual `+` (single level) and `#` (multi level)
// wildcards.
func TopicMatches(pattern, topic string) bool {
	patternLevels := strings.Split(pattern, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range patternLevels {
		if level == "#" {
			// # matches everything from this level on
			return true
		}

		if i >= len(topicLevels) {
			return false
		}

		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(patternLevels) == len(topicLevels)
}
