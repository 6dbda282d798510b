// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package keeper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names accepted in configuration.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var errEmptyRecord = errors.New("record has no data field")

// Codec encodes records for storage. Implementations must be safe for concurrent use.
type Codec interface {
	Name() string

	// EncodeRecord encodes data wrapped in a record envelope.
	EncodeRecord(meta RecordMeta, data any) ([]byte, error)

	// DecodeRecord decodes the envelope and returns the payload still encoded.
	DecodeRecord(b []byte) (RecordMeta, []byte, error)

	// DecodeData decodes a payload returned by DecodeRecord.
	DecodeData(b []byte, v any) error

	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// NewCodec returns the codec registered under name. An empty name selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, name)
	}
}

// JSONCodec stores records as JSON.
type JSONCodec struct{}

type jsonEnvelope struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) EncodeRecord(meta RecordMeta, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record data: %w", err)
	}
	return json.Marshal(jsonEnvelope{
		ID:        meta.ID,
		Data:      payload,
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	})
}

func (JSONCodec) DecodeRecord(b []byte) (RecordMeta, []byte, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return RecordMeta{}, nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(env.Data) == 0 {
		return RecordMeta{}, nil, errEmptyRecord
	}
	return RecordMeta{
		ID:        env.ID,
		Version:   env.Version,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}, env.Data, nil
}

func (JSONCodec) DecodeData(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// MsgpackCodec stores records as MessagePack. Struct fields honour their json tags.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	ID        string             `msgpack:"id"`
	Data      msgpack.RawMessage `msgpack:"data"`
	Version   int                `msgpack:"version"`
	CreatedAt time.Time          `msgpack:"createdAt"`
	UpdatedAt time.Time          `msgpack:"updatedAt"`
}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (c MsgpackCodec) EncodeRecord(meta RecordMeta, data any) ([]byte, error) {
	payload, err := c.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record data: %w", err)
	}
	return c.Marshal(msgpackEnvelope{
		ID:        meta.ID,
		Data:      payload,
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	})
}

func (c MsgpackCodec) DecodeRecord(b []byte) (RecordMeta, []byte, error) {
	var env msgpackEnvelope
	if err := c.Unmarshal(b, &env); err != nil {
		return RecordMeta{}, nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(env.Data) == 0 {
		return RecordMeta{}, nil, errEmptyRecord
	}
	return RecordMeta{
		ID:        env.ID,
		Version:   env.Version,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}, env.Data, nil
}

func (c MsgpackCodec) DecodeData(b []byte, v any) error {
	return c.Unmarshal(b, v)
}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
