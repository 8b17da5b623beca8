package ds248x

import "onewire.dev/owerr"

// Kind aliases, scoped to this package's call sites.
const (
	BridgeBusyKind   = owerr.BridgeBusy
	ConfigEchoKind   = owerr.ConfigEcho
	ChannelEchoKind  = owerr.ChannelEcho
	InvalidValueKind = owerr.InvalidValue
	InvalidDeviceKind = owerr.InvalidDevice
	InvalidWhoAmIKind = owerr.InvalidWhoAmI
)

func newErr(kind owerr.Kind, msg string) error {
	return owerr.New(kind, "ds248x", errorString(msg))
}

// i2cErr wraps a failed I2C.Tx call as an owerr.I2CFailure.
func i2cErr(err error) error {
	return owerr.New(owerr.I2CFailure, "ds248x", err)
}

type errorString string

func (e errorString) Error() string { return string(e) }
