package events

import (
	"fmt"
	"strings"
)

// TopicPrefix is the fixed root segment of every bus topic string,
// "scbe.crawl.{channel}.{event}".
const TopicPrefix = "scbe.crawl"

// Topic channels.
const (
	ChannelDiscovery  = "discovery"
	ChannelStatus     = "status"
	ChannelFindings   = "findings"
	ChannelGovernance = "governance"
	ChannelSentinel   = "sentinel"
)

// BuildTopic constructs a "scbe.crawl.{channel}.{event}" topic string.
func BuildTopic(channel, event string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, channel, event)
}

// ParseTopic splits a topic string into its channel and event segments.
// It returns an error if the topic does not carry the fixed prefix or
// does not have exactly four segments.
func ParseTopic(topic string) (channel, event string, err error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 4 {
		return "", "", fmt.Errorf("topic %q does not have 4 segments", topic)
	}
	if parts[0]+"."+parts[1] != TopicPrefix {
		return "", "", fmt.Errorf("topic %q does not start with %q", topic, TopicPrefix)
	}
	return parts[2], parts[3], nil
}

// TopicMatches reports whether topic matches pattern, where a pattern
// segment of "*" matches any single segment, and a lone "*" pattern
// matches every topic regardless of segment count.
func TopicMatches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")
	if len(patternParts) != len(topicParts) {
		return false
	}

	for i, p := range patternParts {
		if p == "*" {
			continue
		}
		if p != topicParts[i] {
			return false
		}
	}
	return true
}
