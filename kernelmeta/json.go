// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelmeta // import "github.com/opencl-tools/clelf/kernelmeta"

import (
	"encoding/json"
	"fmt"
)

// argJSON is the JSON form of an Arg: the payload fields sit next to the
// name under a "type" discriminator.
type argJSON struct {
	Name string          `json:"name"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (a Arg) MarshalJSON() ([]byte, error) {
	if a.Data == nil {
		return nil, fmt.Errorf("argument %q has no data", a.Name)
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(argJSON{
		Name: a.Name,
		Type: a.Data.ArgType().String(),
		Data: data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Arg) UnmarshalJSON(b []byte) error {
	var raw argJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t, err := ParseArgType(raw.Type)
	if err != nil {
		return err
	}
	data, err := unmarshalArgData(t, raw.Data)
	if err != nil {
		return fmt.Errorf("argument %q: %w", raw.Name, err)
	}
	a.Name = raw.Name
	a.Data = data
	return nil
}

func unmarshalArgData(t ArgType, b json.RawMessage) (ArgData, error) {
	if len(b) == 0 {
		b = json.RawMessage("{}")
	}
	switch t {
	case ArgTypeSampler:
		return unmarshalAs[SamplerArg](b)
	case ArgTypeImage:
		return unmarshalAs[ImageArg](b)
	case ArgTypeCounter:
		return unmarshalAs[CounterArg](b)
	case ArgTypeValue:
		return unmarshalAs[ValueArg](b)
	case ArgTypePointer:
		return unmarshalAs[PointerArg](b)
	case ArgTypeQueue:
		return unmarshalAs[QueueArg](b)
	}
	return nil, fmt.Errorf("unknown argument type %v", t)
}

func unmarshalAs[T ArgData](b json.RawMessage) (ArgData, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
