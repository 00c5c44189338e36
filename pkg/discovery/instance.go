// Package discovery finds miio devices on the local network via DNS-SD
// (mDNS).
//
// Devices advertise a _miio._udp service whose instance name carries the
// model, with dots replaced by dashes, and the decimal device id:
//
//	zhimi-airpurifier-m1_miio68911405
package discovery

import (
	"strconv"
	"strings"
)

// DNS-SD service constants.
const (
	// ServiceMiio is the DNS-SD service type of miio devices.
	ServiceMiio = "_miio._udp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."

	// instanceSeparator splits the model from the device id.
	instanceSeparator = "_miio"
)

// InstanceName builds the instance name a device with model and id
// advertises.
func InstanceName(model string, deviceID uint32) string {
	return strings.ReplaceAll(model, ".", "-") + instanceSeparator + strconv.FormatUint(uint64(deviceID), 10)
}

// ParseInstanceName extracts the model and device id from an instance name.
func ParseInstanceName(instance string) (model string, deviceID uint32, err error) {
	i := strings.LastIndex(instance, instanceSeparator)
	if i <= 0 {
		return "", 0, ErrInvalidInstanceName
	}

	id, err := strconv.ParseUint(instance[i+len(instanceSeparator):], 10, 32)
	if err != nil || id == 0 {
		return "", 0, ErrInvalidInstanceName
	}
	return strings.ReplaceAll(instance[:i], "-", "."), uint32(id), nil
}
