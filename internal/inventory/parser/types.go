package parser

import "athena/internal/inventory/store"

// Format identifies a recognized inventory file layout.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatJSON      Format = "json"
	FormatYAML      Format = "yaml"
	FormatINI       Format = "ini"
	FormatHostsFile Format = "hosts"
	FormatSSHConfig Format = "ssh_config"
	FormatTXT       Format = "txt"
	FormatLLM       Format = "llm"
	FormatUnknown   Format = "unknown"
)

// ParsedHost is one host extracted from an inventory document, before it is
// written to the store.
type ParsedHost struct {
	Hostname    string            `json:"hostname"`
	IP          string            `json:"ip,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Groups      []string          `json:"groups,omitempty"`
	Role        string            `json:"role,omitempty"`
	Service     string            `json:"service,omitempty"`
	SSHPort     int               `json:"ssh_port,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// StoreInput converts the parsed host into an upsert request. Zero values
// become nil pointers so they do not clobber existing columns.
func (h ParsedHost) StoreInput() store.HostInput {
	input := store.HostInput{
		Hostname: h.Hostname,
		Aliases:  h.Aliases,
		Groups:   h.Groups,
		Metadata: h.Metadata,
	}
	set := func(dst **string, v string) {
		if v != "" {
			value := v
			*dst = &value
		}
	}
	set(&input.IP, h.IP)
	set(&input.Environment, h.Environment)
	set(&input.Role, h.Role)
	set(&input.Service, h.Service)
	if h.SSHPort > 0 {
		port := h.SSHPort
		input.SSHPort = &port
	}
	return input
}

// ParseResult is the full outcome of one parse run. Success requires at
// least one host and zero errors; warnings alone do not fail a parse.
type ParseResult struct {
	Hosts      []ParsedHost `json:"hosts"`
	SourceType Format       `json:"source_type"`
	FilePath   string       `json:"file_path,omitempty"`
	Errors     []string     `json:"errors,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Success    bool         `json:"success"`
}

func (r *ParseResult) addError(msg string)   { r.Errors = append(r.Errors, msg) }
func (r *ParseResult) addWarning(msg string) { r.Warnings = append(r.Warnings, msg) }

func (r *ParseResult) finalize() *ParseResult {
	r.Success = len(r.Hosts) > 0 && len(r.Errors) == 0
	return r
}
