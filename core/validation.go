// Copyright 2025 Poiesic Systems
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

package core

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Text must not be empty or whitespace only
//   - Metadata keys must not be empty
//
// NOT validated (populated by the pipeline):
//   - ContentHash, MetadataHash, TitleNormalized
//   - ID (derived from the content hash)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return NewValidationError(ErrInvalidDocument, "document is nil")
	}

	if strings.TrimSpace(doc.Text) == "" {
		return NewValidationError(ErrInvalidDocument, ErrEmptyContent.Error())
	}

	for key := range doc.Metadata {
		if key == "" {
			return NewValidationError(ErrInvalidMetadata, "empty metadata key")
		}
	}

	return nil
}

// ValidateConcept validates a Concept according to domain rules.
func ValidateConcept(concept *Concept) error {
	if concept == nil {
		return fmt.Errorf("%w: concept is nil", ErrInvalidConcept)
	}

	if strings.TrimSpace(concept.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConcept, ErrEmptyConceptName)
	}

	return nil
}

// ValidateRelationship checks a relationship has distinct endpoints and a bounded strength.
func ValidateRelationship(rel *Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is nil", ErrValidation)
	}
	if rel.From == rel.To {
		return fmt.Errorf("%w: self relationship on %d", ErrValidation, rel.From)
	}
	if rel.Strength < 0 || rel.Strength > 1 {
		return fmt.Errorf("%w: %w: %f", ErrValidation, ErrStrengthOutOfRange, rel.Strength)
	}
	return nil
}

// FlattenMetadata converts arbitrary metadata into scalar string values.
// Nested maps become dotted keys ("author.name") and slices become indexed
// keys ("tags.0"). Values that are not strings, numbers, bools, maps or slices
// are rejected.
func FlattenMetadata(metadata map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(metadata))
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			return nil, NewValidationError(ErrInvalidMetadata, "empty metadata key")
		}
		if err := flattenValue(out, k, metadata[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenValue(out map[string]string, key string, value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		out[key] = v
	case bool:
		out[key] = strconv.FormatBool(v)
	case int:
		out[key] = strconv.Itoa(v)
	case int64:
		out[key] = strconv.FormatInt(v, 10)
	case int32:
		out[key] = strconv.FormatInt(int64(v), 10)
	case uint64:
		out[key] = strconv.FormatUint(v, 10)
	case float64:
		out[key] = strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		out[key] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	case map[string]any:
		for k, nested := range v {
			if err := flattenValue(out, key+"."+k, nested); err != nil {
				return err
			}
		}
	case map[string]string:
		for k, nested := range v {
			out[key+"."+k] = nested
		}
	case []any:
		for i, nested := range v {
			if err := flattenValue(out, key+"."+strconv.Itoa(i), nested); err != nil {
				return err
			}
		}
	case []string:
		for i, nested := range v {
			out[key+"."+strconv.Itoa(i)] = nested
		}
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16:
			out[key] = strconv.FormatInt(rv.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			out[key] = strconv.FormatUint(rv.Uint(), 10)
		default:
			return NewValidationError(ErrInvalidMetadata, fmt.Sprintf("key %q has unsupported type %T", key, value))
		}
	}
	return nil
}
