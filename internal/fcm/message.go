package fcm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fcmrelay/internal/journal"
	"fcmrelay/internal/shared"
)

// MaxRegistrationIDs is the multicast limit of the gateway.
const MaxRegistrationIDs = 1000

// Notification is the user-visible part of a message.
type Notification struct {
	Title       string `json:"title,omitempty"`
	Body        string `json:"body,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Sound       string `json:"sound,omitempty"`
	Badge       string `json:"badge,omitempty"`
	Tag         string `json:"tag,omitempty"`
	Color       string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	ClickAction string `json:"click_action,omitempty"`
	BodyLocKey  string `json:"body_loc_key,omitempty"`
	TitleLocKey string `json:"title_loc_key,omitempty"`
}

// Message is a downstream message addressed to exactly one of a device
// token or topic (To), a list of tokens (RegistrationIDs) or a condition
// (Options.Condition).
type Message struct {
	To              string
	RegistrationIDs []string
	Options         Options
	Notification    *Notification
	Data            map[string]any
}

// NewTopicMessage addresses a message to a single topic.
func NewTopicMessage(t Topic, opts Options) Message {
	return Message{To: t.Path(), Options: opts}
}

// NewConditionMessage addresses a message to every subscriber of any topic in l.
func NewConditionMessage(l TopicList, opts Options) Message {
	opts.Condition = l.Condition()
	return Message{Options: opts}
}

// Kind classifies the addressing of m for the journal.
func (m Message) Kind() journal.Kind {
	switch {
	case len(m.RegistrationIDs) > 0:
		return journal.KindMulticast
	case strings.HasPrefix(m.To, TopicPrefix):
		return journal.KindTopic
	case m.To == "" && m.Options.Condition != "":
		return journal.KindCondition
	default:
		return journal.KindToken
	}
}

// Target describes the recipient for logs and the journal.
func (m Message) Target() string {
	switch m.Kind() {
	case journal.KindMulticast:
		return fmt.Sprintf("%d registration ids", len(m.RegistrationIDs))
	case journal.KindCondition:
		return m.Options.Condition
	default:
		return m.To
	}
}

// Validate checks addressing, payload and options.
func (m Message) Validate() error {
	targets := 0
	if m.To != "" {
		targets++
	}
	if len(m.RegistrationIDs) > 0 {
		targets++
	}
	if m.Options.Condition != "" {
		targets++
	}
	var err error
	switch {
	case targets == 0:
		err = errors.New("message has no recipient")
	case targets > 1:
		err = errors.New("message must set only one of to, registration_ids or condition")
	case len(m.RegistrationIDs) > MaxRegistrationIDs:
		err = fmt.Errorf("too many registration ids: %d > %d", len(m.RegistrationIDs), MaxRegistrationIDs)
	case m.Notification == nil && len(m.Data) == 0:
		err = errors.New("message has neither notification nor data")
	}
	if err != nil {
		return shared.MarkKind(err, shared.KindValidation)
	}
	for i, id := range m.RegistrationIDs {
		if strings.TrimSpace(id) == "" {
			return shared.MarkKind(fmt.Errorf("registration id %d is empty", i), shared.KindValidation)
		}
	}
	if m.Notification != nil {
		if err := validate.Struct(m.Notification); err != nil {
			return shared.MarkKind(err, shared.KindValidation)
		}
	}
	return m.Options.Validate()
}

// MarshalJSON renders the legacy HTTP wire format, with options inlined.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		To              string   `json:"to,omitempty"`
		RegistrationIDs []string `json:"registration_ids,omitempty"`
		Options
		Notification *Notification  `json:"notification,omitempty"`
		Data         map[string]any `json:"data,omitempty"`
	}
	return json.Marshal(wire{
		To:              m.To,
		RegistrationIDs: m.RegistrationIDs,
		Options:         m.Options,
		Notification:    m.Notification,
		Data:            m.Data,
	})
}
