package fcm

import (
	"fmt"
	"regexp"
	"strings"

	"fcmrelay/internal/shared"
)

// TopicPrefix addresses a topic in the "to" field.
const TopicPrefix = "/topics/"

var topicName = regexp.MustCompile(`^[a-zA-Z0-9\-_.~%]+$`)

// Topic is a publish/subscribe channel.
type Topic struct {
	Name string
}

// NewTopic validates name and returns a Topic.
func NewTopic(name string) (Topic, error) {
	name = strings.TrimPrefix(name, TopicPrefix)
	if !topicName.MatchString(name) {
		return Topic{}, shared.MarkKind(fmt.Errorf("invalid topic name %q", name), shared.KindValidation)
	}
	return Topic{Name: name}, nil
}

// Path returns the "/topics/<name>" address.
func (t Topic) Path() string { return TopicPrefix + t.Name }

// TopicList is an OR-combined set of topics.
type TopicList []Topic

// Condition renders the list as a condition expression.
func (l TopicList) Condition() string {
	parts := make([]string, len(l))
	for i, t := range l {
		parts[i] = fmt.Sprintf("'%s' in topics", t.Name)
	}
	return strings.Join(parts, " || ")
}
