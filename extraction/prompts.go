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

package extraction

import (
	"fmt"
	"strings"
)

// Categories are the concept categories offered to the model.
var Categories = []string{
	"abstract_concept",
	"algorithm",
	"animal",
	"building",
	"event",
	"field_of_study",
	"food",
	"law",
	"man_made_object",
	"measurement",
	"method",
	"natural_object",
	"occupation",
	"organization",
	"person",
	"place",
	"plant",
	"software",
	"technology",
	"time",
	"tool",
	"vehicle",
}

const extractionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "concepts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {
            "type": "string"
          },
          "category": {
            "type": "string"
          },
          "confidence": {
            "type": "number",
            "minimum": 0,
            "maximum": 1
          }
        },
        "required": ["name", "category", "confidence"],
        "additionalProperties": false
      }
    }
  },
  "required": ["concepts"],
  "additionalProperties": false
}`

const extractionPromptTemplate = `Extract the %d most important concepts from the given text and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Concept names are 1-4 words, singular form, as written in the text. Keep proper nouns and acronyms.
- Category must match exactly one of the listed values: %s.
- Confidence is a number from 0 (barely relevant) to 1 (central to the text).
- Include only concepts that are explicitly mentioned or clearly implied by the text. Do not hallucinate.
- Do not return generic words such as "thing", "example" or "use" as concepts.
- If no concepts can be identified, return "concepts": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.%s

Example:
Input: "Neural networks are trained with backpropagation."
Output:
{
  "concepts": [
    {"name":"neural network","category":"algorithm","confidence":0.95},
    {"name":"backpropagation","category":"algorithm","confidence":0.9}
  ]
}

Example (informal):
Input: "i love my dog and my cat"
Output:
{
  "concepts": [
    {"name":"dog","category":"animal","confidence":0.8},
    {"name":"cat","category":"animal","confidence":0.7}
  ]
}`

const domainRule = `
- The text comes from the %s domain. Prefer concepts specific to that domain.`

// buildSystemPrompt creates the extraction prompt for at most maxConcepts
// concepts, optionally focused on a domain.
func buildSystemPrompt(maxConcepts int, domain string) string {
	extra := ""
	if domain != "" {
		extra = fmt.Sprintf(domainRule, domain)
	}
	return fmt.Sprintf(extractionPromptTemplate,
		maxConcepts,
		extractionResponseSchema,
		strings.Join(Categories, ", "),
		extra)
}
