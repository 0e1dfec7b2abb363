// Copyright 2025 Tom Barlow
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

package retry

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// convert normalizes res.Result per method, regardless of the success
// flag so far: a failing body's result is converted too, so validation
// modes that run on failure see the same parsed shape a success produces.
// Only the method and the presence of a result gate the step.
func convert(method ConversionMethod, res Result) Result {
	if res.Result == nil {
		return res
	}

	switch method {
	case "", ConversionNone:
		return res
	case ConversionText:
		res.TextResponse = fmt.Sprint(res.Result)
		res.Result = res.TextResponse
		return res
	case ConversionJSON:
		text, ok := res.Result.(string)
		if !ok {
			text = fmt.Sprint(res.Result)
		}
		res.TextResponse = text
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return Result{
				Success:      false,
				Error:        "Conversion to json failed",
				Exception:    err.Error(),
				TextResponse: text,
			}
		}
		res.Result = parsed
		return res
	case ConversionXML:
		text, ok := res.Result.(string)
		if !ok {
			text = fmt.Sprint(res.Result)
		}
		res.TextResponse = text
		parsed, err := xmlToMap(text)
		if err != nil {
			return Result{
				Success:      false,
				Error:        "Conversion to xml failed",
				Exception:    err.Error(),
				TextResponse: text,
			}
		}
		res.Result = parsed
		return res
	default:
		return res
	}
}

// xmlToMap parses text into a map[string]any with every element forced
// into a list, whether it occurs once or many times, so result shapes stay
// stable across responses with varying cardinality. Attributes are
// ignored; leaf elements resolve to their trimmed text content.
func xmlToMap(text string) (map[string]any, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))
	root, err := decodeXMLElement(decoder)
	if err != nil {
		return nil, err
	}
	return map[string]any{root.name: []any{root.value}}, nil
}

type xmlNode struct {
	name  string
	value any
}

func decodeXMLElement(decoder *xml.Decoder) (*xmlNode, error) {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		return buildXMLNode(decoder, start)
	}
}

func buildXMLNode(decoder *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	children := map[string][]any{}
	var order []string
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := buildXMLNode(decoder, t)
			if err != nil {
				return nil, err
			}
			if _, ok := children[child.name]; !ok {
				order = append(order, child.name)
			}
			children[child.name] = append(children[child.name], child.value)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				if len(children) == 0 {
					return &xmlNode{name: start.Name.Local, value: strings.TrimSpace(text.String())}, nil
				}
				out := make(map[string]any, len(children))
				for _, name := range order {
					out[name] = children[name]
				}
				return &xmlNode{name: start.Name.Local, value: out}, nil
			}
		}
	}
}
