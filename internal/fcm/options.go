package fcm

import (
	"time"

	"github.com/go-playground/validator/v10"

	"fcmrelay/internal/shared"
)

// Priority of a message.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

const (
	// DefaultTimeToLive is applied when no time to live is given, in seconds.
	DefaultTimeToLive = 60
	// MaxTimeToLive is four weeks, the longest the gateway stores a message.
	MaxTimeToLive = 4 * 7 * 24 * 60 * 60
)

// Options are the delivery parameters shared by every message kind.
type Options struct {
	Condition             string   `json:"condition,omitempty"`
	CollapseKey           string   `json:"collapse_key,omitempty"`
	Priority              Priority `json:"priority,omitempty" validate:"omitempty,oneof=normal high"`
	ContentAvailable      *bool    `json:"content_available,omitempty"`
	DelayWhileIdle        *bool    `json:"delay_while_idle,omitempty"`
	TimeToLive            int      `json:"time_to_live" validate:"gte=0,lte=2419200"`
	RestrictedPackageName string   `json:"restricted_package_name,omitempty"`
	DryRun                *bool    `json:"dry_run,omitempty"`
}

// Option configures Options.
type Option func(*Options)

// WithCondition sets a topic condition such as "'a' in topics || 'b' in topics".
func WithCondition(c string) Option {
	return func(o *Options) { o.Condition = c }
}

// WithCollapseKey groups messages so only the last one is delivered.
func WithCollapseKey(k string) Option {
	return func(o *Options) { o.CollapseKey = k }
}

// WithPriority sets the message priority.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithContentAvailable wakes inactive iOS apps.
func WithContentAvailable(v bool) Option {
	return func(o *Options) { o.ContentAvailable = &v }
}

// WithDelayWhileIdle holds the message until the device becomes active.
func WithDelayWhileIdle(v bool) Option {
	return func(o *Options) { o.DelayWhileIdle = &v }
}

// WithTimeToLive sets how long the gateway keeps an undelivered message.
// The duration is truncated to whole seconds.
func WithTimeToLive(d time.Duration) Option {
	return func(o *Options) { o.TimeToLive = int(d / time.Second) }
}

// WithRestrictedPackageName limits delivery to one Android package.
func WithRestrictedPackageName(name string) Option {
	return func(o *Options) { o.RestrictedPackageName = name }
}

// WithDryRun validates the request on the gateway without delivering it.
func WithDryRun(v bool) Option {
	return func(o *Options) { o.DryRun = &v }
}

var validate = validator.New()

// NewOptions builds validated Options with the default time to live.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{TimeToLive: DefaultTimeToLive}
	for _, fn := range opts {
		fn(&o)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Validate checks the option values.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return shared.MarkKind(err, shared.KindValidation)
	}
	return nil
}
