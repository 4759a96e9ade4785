// Copyright (c) 2026 John Earle
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

package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// envelope is one known response shape of the model gateway. The gateway
// variants in use nest the chat choices at different depths; each envelope
// names the object path leading to a "choices" array.
type envelope struct {
	name string
	path []string
}

// envelopes are tried in order; the first whose choices array is non-empty wins.
var envelopes = []envelope{
	{name: "orchestration_result", path: []string{"orchestration_result"}},
	{name: "module_results.llm", path: []string{"module_results", "llm"}},
	{name: "choices", path: nil},
}

// flatKeys mark an object that already is the model's answer.
var flatKeys = []string{"class", "InvoiceNb", "Date"}

type chatChoice struct {
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// resolve walks the envelope path inside outer and returns the raw content
// of the first choice. matched is false when the path or the choices array
// is absent.
func (e envelope) resolve(outer map[string]json.RawMessage) (content json.RawMessage, matched bool) {
	obj := outer
	for _, key := range e.path {
		raw, ok := obj[key]
		if !ok {
			return nil, false
		}
		var next map[string]json.RawMessage
		if err := json.Unmarshal(raw, &next); err != nil || next == nil {
			return nil, false
		}
		obj = next
	}

	raw, ok := obj["choices"]
	if !ok {
		return nil, false
	}
	var choices []chatChoice
	if err := json.Unmarshal(raw, &choices); err != nil || len(choices) == 0 {
		return nil, false
	}
	return choices[0].Message.Content, true
}

var (
	jsonBlock     = regexp.MustCompile(`(?s)\{.*\}`)
	jsonFenceOpen = regexp.MustCompile("(?i)```json")
	anyFence      = regexp.MustCompile("```[a-zA-Z]*\\n?")
	leadingHeader = regexp.MustCompile(`^#{1,6}\s*`)
)

// ParseObject extracts the model's JSON object from a gateway response.
// It never fails: anything it cannot interpret yields an empty map.
func ParseObject(raw string) map[string]any {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err == nil && outer != nil {
		for _, env := range envelopes {
			content, ok := env.resolve(outer)
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(content, &s); err != nil {
				return map[string]any{}
			}
			return decodeContent(s)
		}

		if obj, ok := decodeObject(raw); ok && hasFlatKey(obj) {
			return obj
		}
	}

	if obj, ok := firstBlock(raw); ok {
		return obj
	}
	return map[string]any{}
}

// ContentText returns the free text of a gateway response, for narrative
// prompts. When no envelope matches the raw body is used. Code fences and a
// leading Markdown heading marker are removed.
func ContentText(raw string) string {
	text := raw

	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err == nil && outer != nil {
		for _, env := range envelopes {
			content, ok := env.resolve(outer)
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(content, &s); err == nil && s != "" {
				text = s
				break
			}
		}
	}

	text = strings.TrimSpace(text)
	text = anyFence.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	text = leadingHeader.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// decodeContent parses a message content string, tolerating Markdown fences
// and prose around the object.
func decodeContent(content string) map[string]any {
	cleaned := jsonFenceOpen.ReplaceAllString(content, "```")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "```", ""))

	if obj, ok := decodeObject(cleaned); ok {
		return obj
	}
	if obj, ok := firstBlock(cleaned); ok {
		return obj
	}
	return map[string]any{}
}

func firstBlock(text string) (map[string]any, bool) {
	block := jsonBlock.FindString(text)
	if block == "" {
		return nil, false
	}
	return decodeObject(block)
}

func decodeObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func hasFlatKey(obj map[string]any) bool {
	for _, k := range flatKeys {
		if truthy(obj[k]) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
