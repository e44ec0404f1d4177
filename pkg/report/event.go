// Package report publishes the progress of bring-up runs over MQTT.
package report

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TopicRoot is the first level of every event topic.
const TopicRoot = "uloader"

// Event is one progress notification of a run.
type Event struct {
	Host   string
	RunID  string
	Phase  string
	Status string
	Error  string
	Time   time.Time
}

// Topic returns the topic the event is published on.
func (e Event) Topic() string {
	return TopicRoot + "/" + e.Host + "/" + e.RunID
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s %s", e.Time.Format(time.RFC3339), e.Phase, e.Status)
	if e.Error != "" {
		s += ": " + e.Error
	}
	return s
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

// Encode encodes the event as a protobuf Struct.
func (e Event) Encode() ([]byte, error) {
	st := &structpb.Struct{Fields: map[string]*structpb.Value{
		"host":   stringValue(e.Host),
		"run_id": stringValue(e.RunID),
		"phase":  stringValue(e.Phase),
		"status": stringValue(e.Status),
		"time":   stringValue(e.Time.UTC().Format(time.RFC3339Nano)),
	}}
	if e.Error != "" {
		st.Fields["error"] = stringValue(e.Error)
	}
	return proto.Marshal(st)
}

// DecodeEvent decodes an encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	get := func(key string) string {
		return st.Fields[key].GetStringValue()
	}
	e := Event{
		Host:   get("host"),
		RunID:  get("run_id"),
		Phase:  get("phase"),
		Status: get("status"),
		Error:  get("error"),
	}
	if e.Phase == "" || e.Status == "" {
		return e, errors.New("decode event: missing phase or status")
	}
	if ts := get("time"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return e, errors.Wrap(err, "decode event time")
		}
		e.Time = t
	}
	return e, nil
}
