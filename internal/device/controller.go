package device

import "strings"

// ClientType is the only mpctClientType this program accepts.
const ClientType = "controllerClient"

// Controller is the local node's own record. It is always present and is
// published like a device on the controllers update topic.
type Controller struct {
	ControllerID              string `json:"controllerId" yaml:"controllerId"`
	ClientType                string `json:"mpctClientType" yaml:"mpctClientType"`
	MQTTNamespace             string `json:"mqttNamespace" yaml:"mqttNamespace"`
	MQTTBrokerAddress         string `json:"mqttBrokerAddress" yaml:"mqttBrokerAddress"`
	ReportingInterval         int64  `json:"reportingInterval" yaml:"reportingInterval"`                 // ms
	PublishFullStatusInterval int64  `json:"publishFullStatusInterval" yaml:"publishFullStatusInterval"` // ms
	SaveDeviceStateOnUpdate   bool   `json:"saveDeviceStateOnUpdate" yaml:"saveDeviceStateOnUpdate"`
	ReportInactiveIntervals   bool   `json:"reportInactiveIntervals" yaml:"reportInactiveIntervals"`

	ControllerIP   string `json:"controllerIP,omitempty" yaml:"-"`
	LocalTimestamp int64  `json:"localTimestamp,omitempty" yaml:"-"`
	System         System `json:"system" yaml:"-"`
}

// System is the controller's own telemetry.
type System struct {
	UptimeProcess float64 `json:"uptimeProcess"` // seconds
	UptimeHost    float64 `json:"uptimeHost"`    // seconds
	FSInfo        FSInfo  `json:"fsInfo"`
}

// FSInfo describes the root filesystem. Nil fields mean the check failed.
type FSInfo struct {
	BytesAvailable *uint64 `json:"bytesAvailable"`
	BytesFree      *uint64 `json:"bytesFree"`
	BytesTotal     *uint64 `json:"bytesTotal"`
}

// Namespace returns the topic prefix, always ending in "/" unless empty.
func (c *Controller) Namespace() string {
	ns := c.MQTTNamespace
	if ns != "" && !strings.HasSuffix(ns, "/") {
		ns += "/"
	}
	return ns
}
