package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrPayloadRejected возвращается, когда payload кейса не проходит
// JSON Schema из definition.
var ErrPayloadRejected = fmt.Errorf("payload rejected by schema")

// ValidatePayload проверяет payload кейса против PayloadSchema
// definition. Пустая схема отключает валидацию.
func ValidatePayload(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal payload schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("invalid payload schema: %w", err)
	}
	compiled, err := compiler.Compile("payload.json")
	if err != nil {
		return fmt.Errorf("invalid payload schema: %w", err)
	}

	// Round-trip через JSON: приводим числа и вложенные типы
	// к представлению, которое понимает валидатор
	normalized, err := normalize(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadRejected, err)
	}
	return nil
}

func normalize(payload map[string]any) (any, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
