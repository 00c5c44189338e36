package profile

import (
	"encoding/json"
	"errors"
	"testing"
	"testing/fstest"
)

func TestDefaultRegistryLoads(t *testing.T) {
	r := Default()
	if len(r.Models()) == 0 {
		t.Fatal("Default() registry is empty")
	}
	if Default() != r {
		t.Error("Default() not cached")
	}
}

func TestResolveKnownModel(t *testing.T) {
	p := Resolve("zhimi.airpurifier.m1")

	if p.Model != "zhimi.airpurifier.m1" || p.IsUnknown() {
		t.Fatalf("Resolve() model = %q", p.Model)
	}
	if p.Description != "Mi Air Purifier" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Category != CategoryBasic {
		t.Errorf("Category = %s", p.Category)
	}
	if len(p.Channels) != 11 {
		t.Errorf("len(Channels) = %d, want 11", len(p.Channels))
	}

	want := []string{
		"power", "mode", "aqi", "led", "buzzer",
		"filter1_life", "temp_dec", "humidity", "favorite_level", "child_lock",
	}
	refresh := p.RefreshChannels()
	if len(refresh) != len(want) {
		t.Fatalf("len(RefreshChannels()) = %d, want %d", len(refresh), len(want))
	}
	for i, c := range refresh {
		if c.Property != want[i] {
			t.Errorf("property %d = %q, want %q", i, c.Property, want[i])
		}
	}
	if p.PropertyMethod != "get_prop" || p.MaxProperties != 5 {
		t.Errorf("PropertyMethod = %q, MaxProperties = %d", p.PropertyMethod, p.MaxProperties)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	p := Resolve("acme.toaster.v9")
	if !p.IsUnknown() {
		t.Fatalf("Resolve() = %q, want unknown", p.Model)
	}
	if len(p.Channels) != 2 || p.Channels[0].ID != "power" || p.Channels[1].ID != "command" {
		t.Errorf("unknown channels = %+v", p.Channels)
	}
	if p != Unknown() {
		t.Error("Resolve() did not return the Unknown sentinel")
	}
}

func TestPropertyBatches(t *testing.T) {
	p := Resolve("zhimi.airpurifier.v6")
	batches := p.PropertyBatches()
	if len(batches) != 2 || len(batches[0]) != 5 || len(batches[1]) != 5 {
		t.Errorf("batch sizes = %v", batchSizes(batches))
	}

	plug := Resolve("chuangmi.plug.m1")
	if got := batchSizes(plug.PropertyBatches()); len(got) != 1 || got[0] != 2 {
		t.Errorf("plug batch sizes = %v", got)
	}

	// A document omitting the limit gets the default.
	light := Resolve("yeelink.light.color1")
	if light.MaxProperties != DefaultMaxProperties {
		t.Errorf("MaxProperties = %d", light.MaxProperties)
	}
}

func batchSizes(b [][]Channel) []int {
	var out []int
	for _, x := range b {
		out = append(out, len(x))
	}
	return out
}

func TestActionParams(t *testing.T) {
	tests := []struct {
		name  string
		pt    ParameterType
		value any
		want  string
	}{
		{"on", ParamOnOff, true, `["on"]`},
		{"off string", ParamOnOff, "OFF", `["off"]`},
		{"flag", ParamFlag, true, `["1"]`},
		{"flag off", ParamFlag, false, `["0"]`},
		{"number", ParamNumber, 42, `[42]`},
		{"fraction", ParamNumber, 2.5, `[2.5]`},
		{"numeric string", ParamNumber, "17", `[17]`},
		{"string", ParamString, "auto", `["auto"]`},
		{"none", ParamNone, nil, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Action{Command: "x", ParameterType: tt.pt}.Params(tt.value)
			if err != nil {
				t.Fatalf("Params() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Params() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := (Action{ParameterType: ParamNumber}).Params("fast"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Params() error = %v, want %v", err, ErrInvalidValue)
	}
	if _, err := (Action{ParameterType: ParamOnOff}).Params("maybe"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Params() error = %v, want %v", err, ErrInvalidValue)
	}
}

func TestProfileAction(t *testing.T) {
	p := Resolve("yeelink.light.mono1")
	a, err := p.Action("brightness")
	if err != nil {
		t.Fatalf("Action() error = %v", err)
	}
	if a.Command != "set_bright" || a.ParameterType != ParamNumber {
		t.Errorf("Action() = %+v", a)
	}
	if _, err := p.Action("command"); !errors.Is(err, ErrNoAction) {
		t.Errorf("Action(command) error = %v, want %v", err, ErrNoAction)
	}
}

func TestChannelDecode(t *testing.T) {
	tests := []struct {
		ch   Channel
		raw  string
		want any
	}{
		{Channel{ID: "p", Type: TypeSwitch}, `"on"`, true},
		{Channel{ID: "p", Type: TypeSwitch}, `"0"`, false},
		{Channel{ID: "p", Type: TypeSwitch}, `true`, true},
		{Channel{ID: "n", Type: TypeNumber}, `59`, float64(59)},
		{Channel{ID: "n", Type: TypeNumber}, `"21.5"`, 21.5},
		{Channel{ID: "s", Type: TypeString}, `"idle"`, "idle"},
		{Channel{ID: "s", Type: TypeString}, `[1,2]`, "[1,2]"},
	}
	for _, tt := range tests {
		got, err := tt.ch.Decode(json.RawMessage(tt.raw))
		if err != nil {
			t.Errorf("Decode(%s) error = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Decode(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if _, err := (Channel{ID: "n", Type: TypeNumber}).Decode(json.RawMessage(`"high"`)); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode() error = %v, want %v", err, ErrDecode)
	}
}

func TestParseValidation(t *testing.T) {
	valid := []byte(`
models: [acme.fan.v1]
category: basic
channels:
  - id: power
    property: power
    type: Switch
    refresh: true
`)
	r, err := Parse(valid)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p := r.Resolve("acme.fan.v1"); p.Description != "acme.fan.v1" || p.MaxProperties != DefaultMaxProperties {
		t.Errorf("Resolve() = %+v", p)
	}

	invalid := map[string]string{
		"missing models": "category: basic\nchannels: []\n",
		"bad category":   "models: [a]\ncategory: toaster\nchannels: []\n",
		"bad type":       "models: [a]\ncategory: basic\nchannels:\n  - id: x\n    type: Float\n",
		"unknown field":  "models: [a]\ncategory: basic\nchannels: []\ncolor: red\n",
		"bad param type": "models: [a]\ncategory: basic\nchannels:\n  - id: x\n    type: Number\n    action: {command: c, parameterType: percent}\n",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("Parse() error = %v, want %v", err, ErrInvalidProfile)
			}
		})
	}

	if _, err := Parse(valid, valid); !errors.Is(err, ErrDuplicateModel) {
		t.Errorf("Parse() duplicate error = %v, want %v", err, ErrDuplicateModel)
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"a.yaml": {Data: []byte("models: [m.a]\ncategory: vacuum\nchannels: []\n")},
		"b.txt":  {Data: []byte("ignored")},
	}
	r, err := Load(fsys)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := r.Models(); len(got) != 1 || got[0] != "m.a" {
		t.Errorf("Models() = %v", got)
	}
	if r.Resolve("m.a").Category != CategoryVacuum {
		t.Errorf("Category = %s", r.Resolve("m.a").Category)
	}
}

func TestBind(t *testing.T) {
	purifier := Resolve("zhimi.airpurifier.m1")

	b, err := Bind(CategoryBasic, purifier)
	if err != nil || b.Rebind {
		t.Errorf("Bind(same) = %+v, %v", b, err)
	}

	b, err = Bind("", purifier)
	if err != nil || b.Rebind {
		t.Errorf("Bind(empty) = %+v, %v", b, err)
	}

	b, err = Bind(CategoryUnsupported, purifier)
	if !errors.Is(err, ErrProfileMismatch) {
		t.Fatalf("Bind(mismatch) error = %v, want %v", err, ErrProfileMismatch)
	}
	if !b.Rebind || b.Resolved != purifier {
		t.Errorf("Bind(mismatch) = %+v", b)
	}
}

func TestCatalog(t *testing.T) {
	d := Lookup("rockrobo.vacuum.v1")
	if d.Category != CategoryVacuum || d.Label() != "Mi Robot Vacuum (rockrobo.vacuum.v1)" {
		t.Errorf("Lookup() = %+v", d)
	}
	if u := Lookup("nope"); u.Model != ModelUnknown || u.Description != "Unknown Mi IO Device" {
		t.Errorf("Lookup(unknown) = %+v", u)
	}
	if Known("nope") || !Known("lumi.gateway.v3") {
		t.Error("Known() misreported")
	}

	// Every profiled model that the catalog lists agrees on category.
	for _, m := range Default().Models() {
		if !Known(m) {
			continue
		}
		if got, want := Resolve(m).Category, Lookup(m).Category; got != want {
			t.Errorf("%s: profile category %s, catalog %s", m, got, want)
		}
	}
}
