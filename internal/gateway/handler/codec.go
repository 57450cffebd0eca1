package handler

import "encoding/json"

// jsonCodec lets Connect carry plain Go structs. It takes the "json" name so
// it serves application/json and application/connect+json requests.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
