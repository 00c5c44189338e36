package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known miio methods.
const (
	MethodInfo        = "miIO.info"
	MethodGetProperty = "get_prop"
)

// Request is the JSON command envelope sent to a device.
type Request struct {
	ID     uint32          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Encode marshals the request. Missing params are sent as an empty array.
func (r *Request) Encode() ([]byte, error) {
	if len(r.Params) == 0 {
		r.Params = json.RawMessage("[]")
	}
	return json.Marshal(r)
}

// ResponseError is the error object a device returns for rejected commands.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// Response is the JSON reply to a Request.
type Response struct {
	ID     uint32          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// DecodeResponse parses a device reply. Devices pad some replies with
// trailing NUL bytes, which are stripped first.
func DecodeResponse(data []byte) (*Response, error) {
	data = bytes.TrimRight(data, "\x00")
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if r.Error == nil && len(r.Result) == 0 {
		return nil, fmt.Errorf("%w: no result", ErrInvalidResponse)
	}
	return &r, nil
}

// ResultArray returns the result as an array, index-aligned with the
// requested property list.
func (r *Response) ResultArray() ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := json.Unmarshal(r.Result, &out); err != nil {
		return nil, fmt.Errorf("%w: result is not an array", ErrInvalidResponse)
	}
	return out, nil
}

// ParseCommand splits a free-form command string of the form
// `method[params]` or `method`. Params must be a JSON array.
//
//	set_power["on"]      -> set_power, ["on"]
//	get_prop["power"]    -> get_prop, ["power"]
//	miIO.info            -> miIO.info, []
func ParseCommand(s string) (string, json.RawMessage, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, '[')
	if i < 0 {
		if s == "" || strings.ContainsAny(s, " ]{}") {
			return "", nil, ErrInvalidCommand
		}
		return s, json.RawMessage("[]"), nil
	}

	method := strings.TrimSpace(s[:i])
	params := s[i:]
	if method == "" || !json.Valid([]byte(params)) {
		return "", nil, ErrInvalidCommand
	}
	return method, json.RawMessage(params), nil
}

// DeviceInfo is the reply to miIO.info.
type DeviceInfo struct {
	Model           string      `json:"model"`
	FirmwareVersion string      `json:"fw_ver"`
	HardwareVersion string      `json:"hw_ver"`
	AccessPoint     AccessPoint `json:"ap"`
	Life            int         `json:"life"`
	MAC             string      `json:"mac,omitempty"`
}

// AccessPoint describes the Wi-Fi network the device is connected to.
type AccessPoint struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid"`
	RSSI  int    `json:"rssi"`
}

// DecodeDeviceInfo parses a miIO.info result object.
func DecodeDeviceInfo(result json.RawMessage) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if info.Model == "" {
		return nil, fmt.Errorf("%w: info without model", ErrInvalidResponse)
	}
	return &info, nil
}
