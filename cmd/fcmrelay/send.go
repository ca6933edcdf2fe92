package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fcmrelay/internal/app"
	"fcmrelay/internal/fcm"
	"fcmrelay/internal/journal"
)

type sendFlags struct {
	to        []string
	topics    []string
	title     string
	body      string
	data      map[string]string
	priority  string
	ttl       time.Duration
	condition string
	collapse  string
	pkg       string
	available bool
	idle      bool
	dryRun    bool
	noJournal bool
}

func newSendCmd() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message and print the gateway response",
		Example: `  fcmrelay send --to <token> --title Hello --body World
  fcmrelay send --topic news --data id=42 --dry-run
  fcmrelay send --topic a --topic b --title "to a or b"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := f.message()
			if err != nil {
				return err
			}
			a, err := app.New(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			var j fcm.Journal
			if !f.noJournal {
				store, err := a.OpenJournal(cmd.Context())
				if err != nil {
					return err
				}
				defer store.Close()
				j = store
			}
			client, err := a.NewClient(j)
			if err != nil {
				return err
			}

			var resp any
			switch msg.Kind() {
			case journal.KindTopic, journal.KindCondition:
				resp, err = client.SendTopic(cmd.Context(), msg)
			default:
				resp, err = client.Send(cmd.Context(), msg)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVar(&f.to, "to", nil, "device registration token (repeat for multicast)")
	fl.StringArrayVar(&f.topics, "topic", nil, "topic name (repeat to build an OR condition)")
	fl.StringVar(&f.title, "title", "", "notification title")
	fl.StringVar(&f.body, "body", "", "notification body")
	fl.StringToStringVar(&f.data, "data", nil, "data payload as key=value pairs")
	fl.StringVar(&f.priority, "priority", "", "normal or high")
	fl.DurationVar(&f.ttl, "ttl", fcm.DefaultTimeToLive*time.Second, "time to live")
	fl.StringVar(&f.condition, "condition", "", "raw topic condition, e.g. \"'a' in topics && 'b' in topics\"")
	fl.StringVar(&f.collapse, "collapse-key", "", "collapse key")
	fl.StringVar(&f.pkg, "restricted-package", "", "deliver only to this Android package")
	fl.BoolVar(&f.available, "content-available", false, "wake an inactive iOS app")
	fl.BoolVar(&f.idle, "delay-while-idle", false, "hold until the device is active")
	fl.BoolVar(&f.dryRun, "dry-run", false, "validate on the gateway without delivering")
	fl.BoolVar(&f.noJournal, "no-journal", false, "do not record the delivery")
	cmd.MarkFlagsMutuallyExclusive("to", "topic", "condition")
	cmd.MarkFlagsOneRequired("to", "topic", "condition")
	return cmd
}

func (f sendFlags) message() (fcm.Message, error) {
	opts := []fcm.Option{
		fcm.WithTimeToLive(f.ttl),
		fcm.WithCollapseKey(f.collapse),
		fcm.WithRestrictedPackageName(f.pkg),
	}
	if f.available {
		opts = append(opts, fcm.WithContentAvailable(true))
	}
	if f.idle {
		opts = append(opts, fcm.WithDelayWhileIdle(true))
	}
	if f.condition != "" {
		opts = append(opts, fcm.WithCondition(f.condition))
	}
	if f.priority != "" {
		opts = append(opts, fcm.WithPriority(fcm.Priority(f.priority)))
	}
	if f.dryRun {
		opts = append(opts, fcm.WithDryRun(true))
	}
	o, err := fcm.NewOptions(opts...)
	if err != nil {
		return fcm.Message{}, err
	}

	var msg fcm.Message
	switch {
	case f.condition != "":
		msg = fcm.Message{Options: o}
	case len(f.topics) == 1:
		t, err := fcm.NewTopic(f.topics[0])
		if err != nil {
			return fcm.Message{}, err
		}
		msg = fcm.NewTopicMessage(t, o)
	case len(f.topics) > 1:
		list := make(fcm.TopicList, 0, len(f.topics))
		for _, name := range f.topics {
			t, err := fcm.NewTopic(name)
			if err != nil {
				return fcm.Message{}, err
			}
			list = append(list, t)
		}
		msg = fcm.NewConditionMessage(list, o)
	case len(f.to) == 1:
		msg = fcm.Message{To: f.to[0], Options: o}
	case len(f.to) > 1:
		msg = fcm.Message{RegistrationIDs: f.to, Options: o}
	default:
		return fcm.Message{}, errors.New("no recipient: use --to, --topic or --condition")
	}

	if f.title != "" || f.body != "" {
		msg.Notification = &fcm.Notification{Title: f.title, Body: f.body}
	}
	if len(f.data) > 0 {
		msg.Data = make(map[string]any, len(f.data))
		for k, v := range f.data {
			msg.Data[k] = v
		}
	}
	return msg, msg.Validate()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
