// Package profile resolves a device model to its declarative profile: the
// channels a device exposes, the property each one reads, and the command
// template each one writes.
//
// Profiles are YAML documents embedded in the binary and validated against
// a JSON schema at load. An unrecognized model resolves to the Unknown
// profile, which still offers power and raw command channels.
package profile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPropertyMethod is the command that reads properties.
const DefaultPropertyMethod = "get_prop"

// DefaultMaxProperties is the number of properties read per request.
const DefaultMaxProperties = 5

// ChannelCommand is the free-form command channel. Its value is a raw
// `method[params]` string rather than a templated action.
const ChannelCommand = "command"

// DataType is a channel's value type.
type DataType string

const (
	TypeSwitch DataType = "Switch"
	TypeNumber DataType = "Number"
	TypeString DataType = "String"
)

// ParameterType controls how an action renders its parameter array.
type ParameterType string

const (
	ParamNone   ParameterType = "none"   // []
	ParamOnOff  ParameterType = "onoff"  // ["on"] / ["off"]
	ParamFlag   ParameterType = "flag"   // ["1"] / ["0"]
	ParamNumber ParameterType = "number" // [n]
	ParamString ParameterType = "string" // ["s"]
)

// Action is the command template of a writable channel.
type Action struct {
	Channel       string
	Command       string
	ParameterType ParameterType
}

// Params renders value into the action's JSON parameter array.
func (a Action) Params(value any) (json.RawMessage, error) {
	switch a.ParameterType {
	case ParamNone, "":
		return json.RawMessage("[]"), nil

	case ParamOnOff, ParamFlag:
		on, err := toBool(value)
		if err != nil {
			return nil, err
		}
		s := "off"
		if a.ParameterType == ParamFlag {
			s = "0"
		}
		if on {
			s = "on"
			if a.ParameterType == ParamFlag {
				s = "1"
			}
		}
		return json.Marshal([]string{s})

	case ParamNumber:
		n, err := toNumber(value)
		if err != nil {
			return nil, err
		}
		return json.RawMessage("[" + strconv.FormatFloat(n, 'f', -1, 64) + "]"), nil

	case ParamString:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		return json.Marshal([]string{s})
	}
	return nil, fmt.Errorf("%w: unknown parameter type %q", ErrInvalidValue, a.ParameterType)
}

// Channel is one device channel.
type Channel struct {
	ID           string
	Property     string
	FriendlyName string
	Type         DataType
	Refresh      bool
}

// Decode converts a raw property value into the channel's Go type:
// bool for Switch, float64 for Number, string for String.
func (c Channel) Decode(raw json.RawMessage) (any, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, c.ID, err)
	}

	switch c.Type {
	case TypeSwitch:
		b, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, c.ID, err)
		}
		return b, nil
	case TypeNumber:
		n, err := toNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, c.ID, err)
		}
		return n, nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return string(raw), nil
	}
}

// Profile is an immutable device profile.
type Profile struct {
	Model          string
	Description    string
	Category       Category
	Channels       []Channel
	Actions        map[string]Action
	PropertyMethod string
	MaxProperties  int
}

// Channel returns the channel with id.
func (p *Profile) Channel(id string) (Channel, bool) {
	for _, c := range p.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}

// Action returns the command template for channel id.
func (p *Profile) Action(id string) (Action, error) {
	a, ok := p.Actions[id]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrNoAction, id)
	}
	return a, nil
}

// RefreshChannels returns the channels polled on refresh, in declaration order.
func (p *Profile) RefreshChannels() []Channel {
	var out []Channel
	for _, c := range p.Channels {
		if c.Refresh && c.Property != "" {
			out = append(out, c)
		}
	}
	return out
}

// PropertyBatches splits the refresh channels into requests of at most
// MaxProperties properties.
func (p *Profile) PropertyBatches() [][]Channel {
	all := p.RefreshChannels()
	size := p.MaxProperties
	if size <= 0 {
		size = DefaultMaxProperties
	}

	var batches [][]Channel
	for len(all) > 0 {
		n := size
		if n > len(all) {
			n = len(all)
		}
		batches = append(batches, all[:n])
		all = all[n:]
	}
	return batches
}

// IsUnknown reports whether p is the fallback profile.
func (p *Profile) IsUnknown() bool {
	return p.Model == ModelUnknown
}

var unknownProfile = &Profile{
	Model:       ModelUnknown,
	Description: unknownDevice.Description,
	Category:    CategoryUnsupported,
	Channels: []Channel{
		{ID: "power", Property: "power", FriendlyName: "Power", Type: TypeSwitch, Refresh: true},
		{ID: ChannelCommand, FriendlyName: "Execute command", Type: TypeString},
	},
	Actions: map[string]Action{
		"power": {Channel: "power", Command: "set_power", ParameterType: ParamOnOff},
	},
	PropertyMethod: DefaultPropertyMethod,
	MaxProperties:  DefaultMaxProperties,
}

// Unknown returns the fallback profile.
func Unknown() *Profile {
	return unknownProfile
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(x) {
		case "on", "1", "true":
			return true, nil
		case "off", "0", "false":
			return false, nil
		}
	case json.Number:
		return x.String() != "0", nil
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	}
	return false, fmt.Errorf("%w: %v is not a switch value", ErrInvalidValue, v)
}

func toNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		if n, err := strconv.ParseFloat(x, 64); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, v)
}
