package natsclient

import (
	"context"
	"strings"
)

// Msg is a message received from or sent to the broker.
type Msg struct {
	Subject string
	Data    []byte
}

// Topic returns the message subject in MQTT topic form.
func (m *Msg) Topic() string {
	return SubjectToTopic(m.Subject)
}

// Handler processes one received message.
type Handler func(ctx context.Context, msg *Msg)

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// SubjectToTopic converts a NATS subject to the MQTT topic it was bridged
// from. The bridge maps the MQTT level separator '/' to '.', and a literal
// '.' to "//".
func SubjectToTopic(subject string) string {
	if !strings.ContainsAny(subject, "./") {
		return subject
	}

	var b strings.Builder
	b.Grow(len(subject))
	for i := 0; i < len(subject); i++ {
		switch {
		case subject[i] == '/' && i+1 < len(subject) && subject[i+1] == '/':
			b.WriteByte('.')
			i++
		case subject[i] == '.':
			b.WriteByte('/')
		default:
			b.WriteByte(subject[i])
		}
	}
	return b.String()
}

// TopicToSubject is the inverse of SubjectToTopic.
func TopicToSubject(topic string) string {
	if !strings.ContainsAny(topic, "./") {
		return topic
	}

	var b strings.Builder
	b.Grow(len(topic) + 4)
	for i := 0; i < len(topic); i++ {
		switch topic[i] {
		case '/':
			b.WriteByte('.')
		case '.':
			b.WriteString("//")
		default:
			b.WriteByte(topic[i])
		}
	}
	return b.String()
}

// SubjectMatches reports whether subject is delivered to a subscription on
// pattern. '*' matches exactly one token and '>' matches one or more
// trailing tokens.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// IsLiteralSubject reports whether subject contains no wildcard token and
// can therefore be published to.
func IsLiteralSubject(subject string) bool {
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return false
		}
	}
	return true
}
