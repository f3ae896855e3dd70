// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"io"
	"math"
	"os"

	"github.com/gomlx/colorize/internal/tfrecord"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Event is the subset of the TensorBoard Event protocol buffer written by Writer:
//
//	Event   { double wall_time = 1; int64 step = 2; oneof { string file_version = 3; Summary summary = 5; } }
//	Summary { repeated Value value = 1; }
//	Value   { string tag = 1; oneof { float simple_value = 2; Image image = 4; } }
//	Image   { int32 height = 1; int32 width = 2; int32 colorspace = 3; bytes encoded_image_string = 4; }
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// Value of a summary. If Image is nil, it holds a scalar.
type Value struct {
	Tag         string
	SimpleValue float32
	Image       *Image
}

// Image holds an encoded (PNG) image.
type Image struct {
	Height, Width int

	// Colorspace is the number of channels: 1 for grayscale, 3 for RGB and 4 for RGBA.
	Colorspace int
	Encoded    []byte
}

// FileVersion written in the first event of every file.
const FileVersion = "brain.Event:2"

const (
	fieldWallTime    protowire.Number = 1
	fieldStep        protowire.Number = 2
	fieldFileVersion protowire.Number = 3
	fieldSummary     protowire.Number = 5

	fieldValue = 1

	fieldTag         protowire.Number = 1
	fieldSimpleValue protowire.Number = 2
	fieldImage       protowire.Number = 4

	fieldHeight     protowire.Number = 1
	fieldWidth      protowire.Number = 2
	fieldColorspace protowire.Number = 3
	fieldEncoded    protowire.Number = 4
)

func appendMessage(buf []byte, num protowire.Number, msg []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, msg)
}

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// Marshal serializes the event.
func (e *Event) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldWallTime, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, math.Float64bits(e.WallTime))
	if e.Step != 0 {
		buf = appendVarint(buf, fieldStep, uint64(e.Step))
	}
	if e.FileVersion != "" {
		buf = protowire.AppendTag(buf, fieldFileVersion, protowire.BytesType)
		buf = protowire.AppendString(buf, e.FileVersion)
		return buf
	}
	var summary []byte
	for _, v := range e.Values {
		var value []byte
		value = protowire.AppendTag(value, fieldTag, protowire.BytesType)
		value = protowire.AppendString(value, v.Tag)
		if v.Image == nil {
			value = protowire.AppendTag(value, fieldSimpleValue, protowire.Fixed32Type)
			value = protowire.AppendFixed32(value, math.Float32bits(v.SimpleValue))
		} else {
			var img []byte
			img = appendVarint(img, fieldHeight, uint64(v.Image.Height))
			img = appendVarint(img, fieldWidth, uint64(v.Image.Width))
			img = appendVarint(img, fieldColorspace, uint64(v.Image.Colorspace))
			img = appendMessage(img, fieldEncoded, v.Image.Encoded)
			value = appendMessage(value, fieldImage, img)
		}
		summary = appendMessage(summary, fieldValue, value)
	}
	return appendMessage(buf, fieldSummary, summary)
}

// fields iterates over the fields of a serialized message, calling fn with the raw value bytes (for
// BytesType) or the scalar value (for the other wire types).
func fields(buf []byte, fn func(num protowire.Number, value []byte, scalar uint64)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		var value []byte
		var scalar uint64
		switch typ {
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(buf)
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(buf)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(buf)
			scalar = uint64(v)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		fn(num, value, scalar)
	}
	return nil
}

// UnmarshalEvent parses a serialized Event.
func UnmarshalEvent(buf []byte) (*Event, error) {
	e := &Event{}
	var errs []error
	err := fields(buf, func(num protowire.Number, value []byte, scalar uint64) {
		switch num {
		case fieldWallTime:
			e.WallTime = math.Float64frombits(scalar)
		case fieldStep:
			e.Step = int64(scalar)
		case fieldFileVersion:
			e.FileVersion = string(value)
		case fieldSummary:
			errs = append(errs, fields(value, func(num protowire.Number, value []byte, _ uint64) {
				if num != fieldValue {
					return
				}
				v, err := unmarshalValue(value)
				errs = append(errs, err)
				e.Values = append(e.Values, v)
			}))
		}
	})
	errs = append(errs, err)
	for _, err := range errs {
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse summary Event")
		}
	}
	return e, nil
}

func unmarshalValue(buf []byte) (v Value, err error) {
	var imgErr error
	err = fields(buf, func(num protowire.Number, value []byte, scalar uint64) {
		switch num {
		case fieldTag:
			v.Tag = string(value)
		case fieldSimpleValue:
			v.SimpleValue = math.Float32frombits(uint32(scalar))
		case fieldImage:
			v.Image = &Image{}
			imgErr = fields(value, func(num protowire.Number, value []byte, scalar uint64) {
				switch num {
				case fieldHeight:
					v.Image.Height = int(scalar)
				case fieldWidth:
					v.Image.Width = int(scalar)
				case fieldColorspace:
					v.Image.Colorspace = int(scalar)
				case fieldEncoded:
					v.Image.Encoded = value
				}
			})
		}
	})
	if err == nil {
		err = imgErr
	}
	return
}

// ReadEvents reads all events of an event file.
func ReadEvents(filePath string) ([]*Event, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open events file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	r := tfrecord.NewReader(f)
	var events []*Event
	for {
		record, err := r.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read event #%d of %q", r.Count(), filePath)
		}
		event, err := UnmarshalEvent(record)
		if err != nil {
			return nil, errors.WithMessagef(err, "event #%d of %q", len(events), filePath)
		}
		events = append(events, event)
	}
}
