// Package driver implements the device types the controller can attach.
//
// Every driver satisfies Driver and is only ever called from loop tasks.
// Blocking hardware work runs on its own goroutine and its result is posted
// back to the loop; the device's busy flag covers exactly that window.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/loop"
)

var (
	ErrUnknownType = errors.New("unknown device type")
	ErrReadOnly    = errors.New("device does not accept commands")
)

// ReadFunc receives the outcome of a read. It is called exactly once per
// Read, on the loop goroutine.
type ReadFunc func(dev *device.Device, failed, changed bool)

// Driver is the capability contract shared by all device types.
type Driver interface {
	Device() *device.Device
	// Read fetches fresh values into the device record.
	Read(done ReadFunc)
	// ExecCommand applies cmd.Data. Read-only drivers report false.
	ExecCommand(cmd device.Command, done func(ok bool))
	// SetReportingInterval (re)arms the periodic read. A zero d keeps the
	// configured interval.
	SetReportingInterval(d time.Duration)
	ClearReportingInterval()
	// Busy reports whether a hardware operation is outstanding.
	Busy() bool
	Close() error
}

// StatusSink is where drivers send status updates.
type StatusSink interface {
	// Report applies the publish policy to the outcome of a read.
	Report(dev *device.Device, failed, changed bool)
	// Publish emits a status message now. Full forces a snapshot.
	Publish(dev *device.Device, full bool)
}

// Hardware bundles the collaborators drivers talk to. Nil members make the
// devices that need them come up in an error state.
type Hardware struct {
	GPIO    hw.GPIO
	OneWire hw.OneWire
	Scripts hw.ScriptRunner
	Serial  hw.SerialQuerier
	PJLink  func(addr, password string) hw.PJLink
	HTTP    *http.Client

	// DHT22Script is run with the GPIO number as its only argument
	// unless the device names its own script.
	DHT22Script string
	// Timeout bounds every blocking hardware operation.
	Timeout time.Duration
}

func (h Hardware) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 10 * time.Second
}

// Env is what a driver needs from the controller.
type Env struct {
	Loop     *loop.Loop
	Status   StatusSink
	Hardware Hardware
	Logger   *slog.Logger
}

// New builds the driver for dev.Physical.Type. Hardware that fails to open
// is recorded as the device error; only an unknown type is rejected.
func New(dev *device.Device, env Env) (Driver, error) {
	switch dev.Physical.Type {
	case "relay", "led", "buzzer":
		return newRelay(dev, env), nil
	case "switch":
		return newSwitch(dev, env), nil
	case "flowSensor":
		return newFlowSensor(dev, env), nil
	case "dht22":
		return newDHT22(dev, env), nil
	case "ds18b20":
		return newDS18B20(dev, env), nil
	case "serialSensor":
		return newSerialSensor(dev, env), nil
	case "projector":
		return newProjector(dev, env), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, dev.Physical.Type)
}
