package fcm

import (
	"fmt"

	"github.com/tidwall/gjson"

	"fcmrelay/internal/shared"
)

// Result is the per-recipient outcome of a token or multicast send.
type Result struct {
	MessageID      string `json:"message_id,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Response is the gateway answer to a token or multicast send.
type Response struct {
	MulticastID  int64    `json:"multicast_id"`
	Success      int      `json:"success"`
	Failure      int      `json:"failure"`
	CanonicalIDs int      `json:"canonical_ids"`
	Results      []Result `json:"results"`
}

// Failed returns the indices of results that carry an error.
func (r *Response) Failed() []int {
	var idx []int
	for i, res := range r.Results {
		if res.Error != "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// FirstError returns the first per-recipient error code, if any.
func (r *Response) FirstError() string {
	for _, res := range r.Results {
		if res.Error != "" {
			return res.Error
		}
	}
	return ""
}

// TopicResponse is the gateway answer to a topic or condition send.
type TopicResponse struct {
	MessageID int64  `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func parseBody(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, shared.MarkKind(fmt.Errorf("invalid gateway response: %.64q", body), shared.KindDependencyFailure)
	}
	return gjson.ParseBytes(body), nil
}

// ParseResponse decodes a token or multicast response body.
func ParseResponse(body []byte) (*Response, error) {
	doc, err := parseBody(body)
	if err != nil {
		return nil, err
	}
	r := &Response{
		MulticastID:  doc.Get("multicast_id").Int(),
		Success:      int(doc.Get("success").Int()),
		Failure:      int(doc.Get("failure").Int()),
		CanonicalIDs: int(doc.Get("canonical_ids").Int()),
	}
	doc.Get("results").ForEach(func(_, v gjson.Result) bool {
		r.Results = append(r.Results, Result{
			MessageID:      v.Get("message_id").String(),
			RegistrationID: v.Get("registration_id").String(),
			Error:          v.Get("error").String(),
		})
		return true
	})
	return r, nil
}

// ParseTopicResponse decodes a topic or condition response body.
func ParseTopicResponse(body []byte) (*TopicResponse, error) {
	doc, err := parseBody(body)
	if err != nil {
		return nil, err
	}
	return &TopicResponse{
		MessageID: doc.Get("message_id").Int(),
		Error:     doc.Get("error").String(),
	}, nil
}
