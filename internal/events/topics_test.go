package events

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	topic := BuildTopic(ChannelDiscovery, "url_found")
	channel, event, err := ParseTopic(topic)
	if err != nil {
		t.Fatalf("ParseTopic: %v", err)
	}
	if channel != ChannelDiscovery || event != "url_found" {
		t.Errorf("ParseTopic = (%s, %s), want (%s, url_found)", channel, event, ChannelDiscovery)
	}
}

func TestParseTopicRejectsBadShape(t *testing.T) {
	if _, _, err := ParseTopic("not.a.valid.topic.shape.extra"); err == nil {
		t.Error("expected error for wrong segment count")
	}
	if _, _, err := ParseTopic("wrong.prefix.a.b"); err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestTopicMatchesWildcardSegment(t *testing.T) {
	pattern := BuildTopic(ChannelSentinel, "*")
	if !TopicMatches(pattern, BuildTopic(ChannelSentinel, "quarantine_notice")) {
		t.Error("expected wildcard event segment to match")
	}
	if TopicMatches(pattern, BuildTopic(ChannelStatus, "quarantine_notice")) {
		t.Error("wildcard in event segment should not match a different channel")
	}
}

func TestTopicMatchesLoneWildcard(t *testing.T) {
	if !TopicMatches("*", BuildTopic(ChannelFindings, "anything")) {
		t.Error("lone wildcard should match every topic")
	}
}

func TestTopicMatchesExact(t *testing.T) {
	topic := BuildTopic(ChannelGovernance, "role_switch")
	if !TopicMatches(topic, topic) {
		t.Error("topicMatches(build(c,e), build(c,e)) should be true")
	}
}
