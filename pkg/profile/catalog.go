package profile

// Category groups devices that expose the same kind of channel set.
type Category string

const (
	CategoryBasic       Category = "basic"
	CategoryVacuum      Category = "vacuum"
	CategoryPhilipsAir  Category = "philipsair"
	CategoryUnsupported Category = "unsupported"
)

// ModelUnknown is the model of the fallback catalog entry and profile.
const ModelUnknown = "unknown"

// Device is one entry of the static device catalog.
type Device struct {
	Model       string
	Description string
	Category    Category
}

// Label returns "description (model)".
func (d Device) Label() string {
	return d.Description + " (" + d.Model + ")"
}

var unknownDevice = Device{ModelUnknown, "Unknown Mi IO Device", CategoryUnsupported}

var catalog = []Device{
	{"rockrobo.vacuum.v1", "Mi Robot Vacuum", CategoryVacuum},
	{"zhimi.airpurifier.m1", "Mi Air Purifier", CategoryBasic},
	{"zhimi.airpurifier.v1", "Mi Air Purifier v1", CategoryBasic},
	{"zhimi.airpurifier.v2", "Mi Air Purifier v2", CategoryBasic},
	{"zhimi.airpurifier.v3", "Mi Air Purifier v3", CategoryBasic},
	{"zhimi.airpurifier.v6", "Mi Air Purifier v6", CategoryBasic},
	{"zhimi.humidifier.v1", "Mi Humdifier", CategoryUnsupported},
	{"chuangmi.plug.m1", "Mi Power-plug", CategoryBasic},
	{"chuangmi.plug.v1", "Mi Power-plug v1", CategoryBasic},
	{"chuangmi.plug.v2", "Mi Power-plug v2", CategoryBasic},
	{"qmi.powerstrip.v1", "Mi Power-strip v1", CategoryUnsupported},
	{"zimi.powerstrip.v2", "Mi Power-strip v2", CategoryUnsupported},
	{"lumi.gateway.v1", "Mi Smart Home Gateway 1", CategoryUnsupported},
	{"lumi.gateway.v2", "Mi Smart Home Gateway 2", CategoryUnsupported},
	{"lumi.gateway.v3", "Mi Smart Home Gateway 3", CategoryUnsupported},
	{"yeelink.light.lamp1", "Yeelight", CategoryBasic},
	{"yeelink.light.mono1", "Yeelight White Bulb", CategoryBasic},
	{"yeelink.light.color1", "Yeelight Color Bulb", CategoryBasic},
	{"soocare.toothbrush.x3", "Mi Toothbrush", CategoryUnsupported},
	{"xiaomi.wifispeaker.v1", "Mi Internet Speaker", CategoryUnsupported},
	{"philips.light.bulb", "Xiaomi Philips Bulb", CategoryBasic},
	{"philips.light.sread1", "Xiaomi Philips Eyecare Smart Lamp 2", CategoryBasic},
	{"philips.light.ceiling", "Xiaomi Philips LED Ceiling Lamp", CategoryBasic},
	{"AC2729/10", "Philips Air Purifier and Humidifier 2000", CategoryPhilipsAir},
	{"AC2889/10", "Philips Air Purifier 2000i", CategoryPhilipsAir},
	{"AC3829/10", "Philips Air Purifier 3000i", CategoryPhilipsAir},
}

var catalogIndex = func() map[string]Device {
	m := make(map[string]Device, len(catalog))
	for _, d := range catalog {
		m[d.Model] = d
	}
	return m
}()

// Lookup returns the catalog entry for model, or the unknown entry.
func Lookup(model string) Device {
	if d, ok := catalogIndex[model]; ok {
		return d
	}
	return unknownDevice
}

// Known reports whether model has a catalog entry.
func Known(model string) bool {
	_, ok := catalogIndex[model]
	return ok
}

// Catalog returns a copy of the catalog in declaration order.
func Catalog() []Device {
	out := make([]Device, len(catalog))
	copy(out, catalog)
	return out
}
