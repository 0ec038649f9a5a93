package controller

import (
	"strings"

	"mpct-controller/internal/device"
)

// Topics derives bus topics from the controller record.
type Topics struct {
	ns           string
	controllerID string
}

func NewTopics(rec *device.Controller) Topics {
	return Topics{ns: rec.Namespace(), controllerID: rec.ControllerID}
}

func (t Topics) ControllerCommand() string { return t.ns + "command/controllers" }

func (t Topics) ControllerUpdate() string { return t.ns + "update/controllers" }

func (t Topics) DeviceCommand(uid string) string { return t.ns + "command/" + uid }

func (t Topics) DeviceUpdate(uid string) string { return t.ns + "update/" + uid }

// IsDeviceCommand reports whether topic lies strictly below this
// controller's device command namespace. Device UIDs start with the
// controller id, so every device of this controller matches.
func (t Topics) IsDeviceCommand(topic string) bool {
	prefix := t.ns + "command/" + t.controllerID
	return len(topic) > len(prefix) && strings.HasPrefix(topic, prefix)
}
