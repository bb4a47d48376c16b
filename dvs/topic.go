package dvs

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// TopicSeparator separates the segments of a DVS topic.
const TopicSeparator = "/"

// topicSegments is the exact segment count of a valid DVS topic:
// <prefix>/<host>/<metric_group_key>/<metric_key>
const topicSegments = 4

// ErrInvalidTopic matches every *TopicError via errors.Is.
var ErrInvalidTopic = stderrors.New("invalid dvs topic")

// Topic is a decomposed DVS topic. Both keys are sub-slices of the topic
// string they were parsed from.
type Topic struct {
	GroupKey  string
	MetricKey string
}

// TopicError reports a topic that does not have exactly four segments.
type TopicError struct {
	Topic string
}

// Error implements the error interface
func (e *TopicError) Error() string {
	return fmt.Sprintf("invalid dvs topic: %s", e.Topic)
}

// Is reports whether target is ErrInvalidTopic.
func (e *TopicError) Is(target error) bool {
	return target == ErrInvalidTopic
}

// ParseTopic splits topic into its four segments and returns the group and
// metric keys. The prefix and host segments must be present but are not
// inspected; keys are taken verbatim, empty ones included.
func ParseTopic(topic string) (Topic, error) {
	if strings.Count(topic, TopicSeparator) != topicSegments-1 {
		return Topic{}, &TopicError{Topic: topic}
	}

	_, rest, _ := strings.Cut(topic, TopicSeparator)
	_, rest, _ = strings.Cut(rest, TopicSeparator)
	group, metric, _ := strings.Cut(rest, TopicSeparator)

	return Topic{GroupKey: group, MetricKey: metric}, nil
}
