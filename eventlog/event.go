package eventlog

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/c360/tensorscope/tensor"
)

// ErrBadEvent reports a record whose payload is not a valid Event message.
var ErrBadEvent = errors.New("eventlog: malformed event")

// ScalarsPlugin is the plugin name given to migrated simple_value summaries.
const ScalarsPlugin = "scalars"

// Event field numbers.
const (
	eventWallTime    = 1
	eventStep        = 2
	eventFileVersion = 3
	eventSummary     = 5

	summaryValue = 1

	valueTag         = 1
	valueSimpleValue = 2
	valueTensor      = 8
	valueMetadata    = 9

	metadataPluginData = 1

	pluginDataName    = 1
	pluginDataContent = 2
)

// Event is the subset of a TensorFlow Event record the multiplexer keeps.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// Value is one summary value. Tensor holds the serialized TensorProto.
type Value struct {
	Tag           string
	Tensor        []byte
	HasMetadata   bool
	PluginName    string
	PluginContent []byte
}

// DecodeEvent parses a serialized Event. Legacy simple_value entries are
// rewritten into scalar float tensors under the scalars plugin.
func DecodeEvent(b []byte) (*Event, error) {
	ev := &Event{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			ev.WallTime = math.Float64frombits(v)
			return n, nil
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			ev.Step = int64(v)
			return n, nil
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			ev.FileVersion = string(v)
			return n, nil
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			return n, decodeSummary(v, ev)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSummary(b []byte, ev *Event) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != summaryValue || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		val, err := decodeValue(v)
		if err != nil {
			return n, err
		}
		ev.Values = append(ev.Values, val)
		return n, nil
	})
}

func decodeValue(b []byte) (Value, error) {
	var (
		val       Value
		simple    float32
		hasSimple bool
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			val.Tag = string(v)
			return n, nil
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			simple, hasSimple = math.Float32frombits(v), true
			return n, nil
		case num == valueTensor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			val.Tensor = v
			return n, nil
		case num == valueMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			val.HasMetadata = true
			return n, decodeMetadata(v, &val)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Value{}, err
	}

	if hasSimple && val.Tensor == nil {
		val.Tensor = tensor.ScalarProto(simple)
		if val.PluginName == "" {
			val.HasMetadata = true
			val.PluginName = ScalarsPlugin
		}
	}
	return val, nil
}

func decodeMetadata(b []byte, val *Value) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != metadataPluginData || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		return n, walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if typ != protowire.BytesType || (num != pluginDataName && num != pluginDataContent) {
				return protowire.ConsumeFieldValue(num, typ, b), nil
			}
			s, n := protowire.ConsumeBytes(b)
			if num == pluginDataName {
				val.PluginName = string(s)
			} else {
				val.PluginContent = s
			}
			return n, nil
		})
	})
}

// walk iterates the fields of a message, calling fn with the bytes after
// each tag. fn returns how many bytes it consumed.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrBadEvent, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrBadEvent, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// Marshal serializes the event in the wire format DecodeEvent reads.
func (e *Event) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, eventWallTime, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, math.Float64bits(e.WallTime))
	out = protowire.AppendTag(out, eventStep, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(e.Step))
	if e.FileVersion != "" {
		out = protowire.AppendTag(out, eventFileVersion, protowire.BytesType)
		out = protowire.AppendString(out, e.FileVersion)
	}
	if len(e.Values) == 0 {
		return out
	}

	var summary []byte
	for _, v := range e.Values {
		summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
		summary = protowire.AppendBytes(summary, v.marshal())
	}
	out = protowire.AppendTag(out, eventSummary, protowire.BytesType)
	return protowire.AppendBytes(out, summary)
}

func (v Value) marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, valueTag, protowire.BytesType)
	out = protowire.AppendString(out, v.Tag)
	if v.Tensor != nil {
		out = protowire.AppendTag(out, valueTensor, protowire.BytesType)
		out = protowire.AppendBytes(out, v.Tensor)
	}
	if v.HasMetadata {
		var pd []byte
		pd = protowire.AppendTag(pd, pluginDataName, protowire.BytesType)
		pd = protowire.AppendString(pd, v.PluginName)
		if len(v.PluginContent) > 0 {
			pd = protowire.AppendTag(pd, pluginDataContent, protowire.BytesType)
			pd = protowire.AppendBytes(pd, v.PluginContent)
		}
		var md []byte
		md = protowire.AppendTag(md, metadataPluginData, protowire.BytesType)
		md = protowire.AppendBytes(md, pd)
		out = protowire.AppendTag(out, valueMetadata, protowire.BytesType)
		out = protowire.AppendBytes(out, md)
	}
	return out
}

// SimpleValue builds the legacy simple_value encoding of a scalar summary,
// as older writers produce it.
func SimpleValue(tag string, v float32) []byte {
	var out []byte
	out = protowire.AppendTag(out, valueTag, protowire.BytesType)
	out = protowire.AppendString(out, tag)
	out = protowire.AppendTag(out, valueSimpleValue, protowire.Fixed32Type)
	return protowire.AppendFixed32(out, math.Float32bits(v))
}

// RawSummaryEvent serializes an event whose summary values are already
// encoded, such as those returned by SimpleValue.
func RawSummaryEvent(wallTime float64, step int64, values ...[]byte) []byte {
	ev := Event{WallTime: wallTime, Step: step}
	out := ev.Marshal()
	var summary []byte
	for _, v := range values {
		summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
		summary = protowire.AppendBytes(summary, v)
	}
	out = protowire.AppendTag(out, eventSummary, protowire.BytesType)
	return protowire.AppendBytes(out, summary)
}
