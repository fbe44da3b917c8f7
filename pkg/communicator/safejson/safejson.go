// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package safejson decodes backend payloads with goccy/go-json and falls
// back to encoding/json when goccy panics on unusual input.
package safejson

import (
	"bytes"
	"encoding/base64"
	jsonstd "encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// ErrNotAnObject is returned by DecodeEvent for frames that are valid JSON
// but not a JSON object.
var ErrNotAnObject = errors.New("payload is not a JSON object")

func Unmarshal(val []byte, decoded any) (err error) {
	valuePtr := reflect.ValueOf(decoded)
	if !valuePtr.IsValid() || valuePtr.Kind() != reflect.Ptr || valuePtr.IsNil() {
		return errors.New("decoded must be a non-nil pointer")
	}

	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to decode, attempting to use stdlib, error: %v (Payload: %s)",
				r, base64.StdEncoding.EncodeToString(val))

			temp := reflect.New(valuePtr.Elem().Type())
			err = jsonstd.Unmarshal(val, temp.Interface())
			if err == nil {
				valuePtr.Elem().Set(temp.Elem())
			}
		}
	}()

	temp := reflect.New(valuePtr.Elem().Type())
	if err = json.Unmarshal(val, temp.Interface()); err == nil {
		valuePtr.Elem().Set(temp.Elem())
	}

	return err
}

// DecodeEvent decodes one push frame. Only JSON objects are events.
func DecodeEvent(frame []byte) (models.Event, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, errors.New("empty frame")
	}
	if trimmed[0] != '{' {
		return nil, ErrNotAnObject
	}

	var ev models.Event
	if err := Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if ev == nil {
		return nil, ErrNotAnObject
	}

	return ev, nil
}

func Marshal(val any) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to encode, attempting to use stdlib, error: %v", r)

			encoded, err = jsonstd.Marshal(val)
		}
	}()

	return json.Marshal(val)
}

// MustMarshal panics if val cannot be encoded. Only used for values built
// by this module.
func MustMarshal(val any) []byte {
	encoded, err := Marshal(val)
	if err != nil {
		panic(err)
	}

	return encoded
}
