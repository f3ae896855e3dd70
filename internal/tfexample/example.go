// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tfexample encodes and decodes the tf.Example protocol buffer message, without depending
// on the TensorFlow generated code.
//
// Only the subset of the schema used to store features is supported:
//
//	Example   { Features features = 1; }
//	Features  { map<string, Feature> feature = 1; }
//	Feature   { oneof { BytesList bytes_list = 1; FloatList float_list = 2; Int64List int64_list = 3; } }
//	BytesList { repeated bytes value = 1; }
//	FloatList { repeated float value = 1 [packed = true]; }
//	Int64List { repeated int64 value = 1 [packed = true]; }
//
// Unknown fields are skipped.
package tfexample

import (
	"maps"
	"math"
	"slices"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Feature holds one of the three kinds of feature lists. Only one of them is expected to be set.
type Feature struct {
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Example maps feature names to their values.
type Example map[string]Feature

// BytesFeature creates a Feature with one bytes value.
func BytesFeature(values ...[]byte) Feature { return Feature{Bytes: values} }

// Int64Feature creates a Feature with int64 values.
func Int64Feature(values ...int64) Feature { return Feature{Int64s: values} }

// FloatFeature creates a Feature with float values.
func FloatFeature(values ...float32) Feature { return Feature{Floats: values} }

// Bytes returns the first bytes value of the feature named key, and whether it was present.
func (e Example) Bytes(key string) ([]byte, bool) {
	f, found := e[key]
	if !found || len(f.Bytes) == 0 {
		return nil, false
	}
	return f.Bytes[0], true
}

// Int64 returns the first int64 value of the feature named key, and whether it was present.
func (e Example) Int64(key string) (int64, bool) {
	f, found := e[key]
	if !found || len(f.Int64s) == 0 {
		return 0, false
	}
	return f.Int64s[0], true
}

// Keys returns the sorted feature names.
func (e Example) Keys() []string {
	return slices.Sorted(maps.Keys(e))
}

// Field numbers.
const (
	fieldFeatures   protowire.Number = 1
	fieldFeatureMap protowire.Number = 1
	fieldMapKey     protowire.Number = 1
	fieldMapValue   protowire.Number = 2
	fieldBytesList  protowire.Number = 1
	fieldFloatList  protowire.Number = 2
	fieldInt64List  protowire.Number = 3
	fieldListValue  protowire.Number = 1
)

// Marshal serializes the example. Features are written sorted by name, so the output is deterministic.
func Marshal(e Example) []byte {
	var features []byte
	for _, key := range e.Keys() {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, marshalFeature(e[key]))
		features = protowire.AppendTag(features, fieldFeatureMap, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}
	var buf []byte
	buf = protowire.AppendTag(buf, fieldFeatures, protowire.BytesType)
	buf = protowire.AppendBytes(buf, features)
	return buf
}

func marshalFeature(f Feature) []byte {
	var list []byte
	var kind protowire.Number
	switch {
	case f.Floats != nil:
		kind = fieldFloatList
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	case f.Int64s != nil:
		kind = fieldInt64List
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		kind = fieldBytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	}
	var buf []byte
	buf = protowire.AppendTag(buf, kind, protowire.BytesType)
	buf = protowire.AppendBytes(buf, list)
	return buf
}

// fieldFn is called for each field of a message. For fields of type protowire.BytesType, value holds
// the contents; for varints and fixed values, scalar holds the value.
type fieldFn func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error

// forEachField iterates over the fields of a serialized message.
func forEachField(buf []byte, fn fieldFn) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid tag")
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
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(buf)
			scalar = uint64(v32)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "invalid value for field %d", num)
		}
		buf = buf[n:]
		if err := fn(num, typ, value, scalar); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal parses a serialized tf.Example.
func Unmarshal(buf []byte) (Example, error) {
	e := make(Example)
	err := forEachField(buf, func(num protowire.Number, typ protowire.Type, features []byte, _ uint64) error {
		if num != fieldFeatures || typ != protowire.BytesType {
			return nil
		}
		return forEachField(features, func(num protowire.Number, typ protowire.Type, entry []byte, _ uint64) error {
			if num != fieldFeatureMap || typ != protowire.BytesType {
				return nil
			}
			return unmarshalEntry(e, entry)
		})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "tfexample: failed to parse Example")
	}
	return e, nil
}

func unmarshalEntry(e Example, entry []byte) error {
	var key string
	var feature Feature
	err := forEachField(entry, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldMapKey:
			key = string(value)
		case fieldMapValue:
			var err error
			feature, err = unmarshalFeature(value)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	e[key] = feature
	return nil
}

func unmarshalFeature(buf []byte) (f Feature, err error) {
	err = forEachField(buf, func(kind protowire.Number, typ protowire.Type, list []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch kind {
		case fieldBytesList:
			f.Bytes = [][]byte{}
			return forEachField(list, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
				if num == fieldListValue && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, value)
				}
				return nil
			})
		case fieldFloatList:
			f.Floats = []float32{}
			return forEachField(list, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
				if num != fieldListValue {
					return nil
				}
				switch typ {
				case protowire.Fixed32Type:
					f.Floats = append(f.Floats, math.Float32frombits(uint32(scalar)))
				case protowire.BytesType:
					for len(value) > 0 {
						v, n := protowire.ConsumeFixed32(value)
						if n < 0 {
							return errors.Wrap(protowire.ParseError(n), "invalid packed float")
						}
						f.Floats = append(f.Floats, math.Float32frombits(v))
						value = value[n:]
					}
				}
				return nil
			})
		case fieldInt64List:
			f.Int64s = []int64{}
			return forEachField(list, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
				if num != fieldListValue {
					return nil
				}
				switch typ {
				case protowire.VarintType:
					f.Int64s = append(f.Int64s, int64(scalar))
				case protowire.BytesType:
					for len(value) > 0 {
						v, n := protowire.ConsumeVarint(value)
						if n < 0 {
							return errors.Wrap(protowire.ParseError(n), "invalid packed int64")
						}
						f.Int64s = append(f.Int64s, int64(v))
						value = value[n:]
					}
				}
				return nil
			})
		}
		return nil
	})
	return
}
