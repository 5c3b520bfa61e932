package parser

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// parseJSON accepts four shapes: an array of host objects, an object with a
// "hosts" key, an object-of-objects keyed by hostname, or a single host
// object.
func (p *Parser) parseJSON(content string, result *ParseResult) {
	var root any
	if err := json.Unmarshal([]byte(content), &root); err != nil {
		result.addError("json parse: " + err.Error())
		return
	}
	p.collectFromDocument(root, result)
}

// parseYAML decodes to generic values and reuses the JSON shape handling.
func (p *Parser) parseYAML(content string, result *ParseResult) {
	var root any
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		result.addError("yaml parse: " + err.Error())
		return
	}
	p.collectFromDocument(normalizeYAML(root), result)
}

func (p *Parser) collectFromDocument(root any, result *ParseResult) {
	switch doc := root.(type) {
	case []any:
		for i, item := range doc {
			p.collectHostObject(item, "", fmt.Sprintf("entry %d", i), result)
		}
	case map[string]any:
		if hosts, ok := doc["hosts"].([]any); ok {
			for i, item := range hosts {
				p.collectHostObject(item, "", fmt.Sprintf("hosts[%d]", i), result)
			}
			return
		}
		// A flat object with a recognizable hostname key is a single host;
		// otherwise treat it as hostname -> attributes.
		if hasHostnameKey(doc) {
			p.collectHostObject(doc, "", "document", result)
			return
		}
		for name, attrs := range doc {
			p.collectHostObject(attrs, name, name, result)
		}
	default:
		result.addError("json: unsupported document shape")
	}
}

func hasHostnameKey(obj map[string]any) bool {
	for key := range obj {
		if isOneOf(key, hostnameKeys) {
			return true
		}
	}
	return false
}

// collectHostObject flattens one host entry. impliedName carries the object
// key in the hostname->attributes shape.
func (p *Parser) collectHostObject(item any, impliedName, where string, result *ParseResult) {
	fields := map[string]string{}
	switch obj := item.(type) {
	case map[string]any:
		for key, value := range obj {
			switch v := value.(type) {
			case []any:
				parts := make([]string, 0, len(v))
				for _, elem := range v {
					parts = append(parts, stringify(elem))
				}
				fields[key] = joinList(parts)
			case map[string]any:
				for sub, subVal := range v {
					fields[key+"."+sub] = stringify(subVal)
				}
			default:
				fields[key] = stringify(v)
			}
		}
	case string:
		// hostname -> "ip" shorthand
		if impliedName != "" {
			fields["ip"] = obj
		}
	case nil:
		// hostname with no attributes
	default:
		result.addWarning(where + ": unsupported host entry type, skipped")
		return
	}

	host := hostFromFields(fields)
	if host.Hostname == "" {
		host.Hostname = impliedName
	}
	if host.Hostname == "" {
		result.addWarning(where + ": missing hostname, skipped")
		return
	}
	result.Hosts = append(result.Hosts, host)
}

func joinList(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// normalizeYAML converts yaml.v3's map[any]any trees (produced for non-string
// keys) into map[string]any so the JSON shape handling applies.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[stringify(key)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
