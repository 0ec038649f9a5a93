// Package device holds the records the controller keeps for itself and for
// every locally attached device. Records are mutated only from loop tasks.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Device is the full record of one attached device as published and persisted.
type Device struct {
	Physical Physical       `json:"physical"`
	Config   Config         `json:"config"`
	Meta     map[string]any `json:"meta"`
	Status   Status         `json:"status"`
	Data     Data           `json:"data"`
	Error    Fault          `json:"error"`
}

// Physical describes the hardware. Set at registration, rarely mutated.
type Physical struct {
	Type    string `json:"type"`
	LocalID int    `json:"localId"`
	UID     string `json:"uid,omitempty"`

	GPIO    int    `json:"gpio,omitempty"`
	Address string `json:"address,omitempty"` // one-wire address
	Script  string `json:"script,omitempty"`

	SerialPort string `json:"serialPort,omitempty"`
	Baud       int    `json:"baud,omitempty"`

	IP             string `json:"ip,omitempty"`
	Port           int    `json:"port,omitempty"`
	ConnectedSince int64  `json:"connectedSince,omitempty"`
	LastResponse   int64  `json:"lastResponse,omitempty"`
}

// Config holds tunables that remote commands and config edits may change.
type Config struct {
	ReportingInterval       int64   `json:"reportingInterval,omitempty"` // ms
	ReportInactiveIntervals bool    `json:"reportInactiveIntervals"`
	MaxDeltaTemperature     float64 `json:"maxDeltaTemperature,omitempty"`
	MaxDeltaHumidity        float64 `json:"maxDeltaHumidity,omitempty"`
	Query                   string  `json:"query,omitempty"` // serial request line

	// Projector.
	Password        string   `json:"password,omitempty"`
	HTTPOn          string   `json:"httpOn,omitempty"`
	HTTPOff         string   `json:"httpOff,omitempty"`
	Method          int      `json:"method,omitempty"`
	PJLinkParams    []string `json:"pjlinkParams,omitempty"`
	ResponseTimeout int64    `json:"responseTimeout,omitempty"` // ms
}

// Interval returns the configured reporting interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.ReportingInterval) * time.Millisecond
}

// Status carries transient runtime flags.
type Status struct {
	Busy bool `json:"busy"`
}

// Data holds the last known values. Only the fields a driver type uses are set.
type Data struct {
	Status      *State   `json:"status,omitempty"`
	Temperature *Reading `json:"temperature,omitempty"`
	Humidity    *Reading `json:"humidity,omitempty"`
	Flow        *Flow    `json:"flow,omitempty"`
	PJLink      *PJLink  `json:"pjlink,omitempty"`
}

// State is a discrete output or input level.
type State struct {
	Value    Level  `json:"value"`
	Raw      *int   `json:"raw,omitempty"`
	ReadMode string `json:"readMode,omitempty"`
	ReadAt   int64  `json:"readAt,omitempty"`
}

// Reading is one polled sensor channel.
type Reading struct {
	Value         *float64 `json:"value"`
	PreviousValue *float64 `json:"previousValue"`
	Unit          string   `json:"unit"`
	ReadAt        int64    `json:"readAt,omitempty"`
}

// Flow is the pulse counter of a flow sensor for the current cycle.
type Flow struct {
	Interval          int64 `json:"interval"`
	Count             int   `json:"count"`
	LastReset         int64 `json:"lastReset"`
	ActualCycleLength int64 `json:"actualCycleLength"`
	ReadAt            int64 `json:"readAt"`
}

// PJLink is the last polled projector state.
type PJLink struct {
	PowerState   *int              `json:"powerState,omitempty"` // 0 off, 1 on, 2 cooling, 3 warmup
	Mute         *Mute             `json:"mute,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Lamps        []Lamp            `json:"lamps,omitempty"`
	Inputs       []string          `json:"inputs,omitempty"`
	Input        string            `json:"input,omitempty"`
	Name         string            `json:"name,omitempty"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Model        string            `json:"model,omitempty"`
}

// Mute is the projector audio/video mute state.
type Mute struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Lamp is one projector lamp.
type Lamp struct {
	Hours int  `json:"hours"`
	On    bool `json:"on"`
}

// UID builds the stable identity of a device.
func UID(controllerID string, localID int, typ string) string {
	return controllerID + strconv.Itoa(localID) + "." + typ
}

// Millis converts t to Unix milliseconds, the timestamp unit of all records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Fault is the error field of a record: empty means no error. It encodes as
// JSON false or as the description string.
type Fault string

// Set reports whether f holds an error.
func (f Fault) Set() bool { return f != "" }

func (f Fault) MarshalJSON() ([]byte, error) {
	if f == "" {
		return []byte("false"), nil
	}
	return json.Marshal(string(f))
}

func (f *Fault) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "false", "null", `""`:
		*f = ""
		return nil
	case "true":
		*f = "error"
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("error field: %w", err)
	}
	*f = Fault(s)
	return nil
}

// Level is a digital value. It decodes booleans as well as numbers.
type Level int

func (l *Level) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true":
		*l = 1
		return nil
	case "false", "null":
		*l = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	*l = Level(n)
	return nil
}

// Command is a decoded inbound message on a command topic.
type Command struct {
	Data       map[string]any `json:"data,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	DeleteMeta string         `json:"deleteMeta,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// DecodeCommand parses a command payload.
func DecodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// ToMap encodes v as a generic JSON tree.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap decodes a generic JSON tree into a Device.
func FromMap(m map[string]any) (*Device, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode device record: %w", err)
	}
	var dev Device
	if err := json.Unmarshal(b, &dev); err != nil {
		return nil, fmt.Errorf("decode device record: %w", err)
	}
	if dev.Meta == nil {
		dev.Meta = make(map[string]any)
	}
	return &dev, nil
}
