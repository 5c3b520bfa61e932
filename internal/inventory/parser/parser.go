// Package parser turns inventory documents in any common format into
// ParsedHost records. Recognized formats are parsed deterministically; only
// when a document matches nothing does the gated LLM extraction fallback
// run, and never without both compliance flags set.
package parser

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"athena/internal/config"
	"athena/internal/llm"
	"athena/internal/logging"
)

// Parser detects inventory formats and extracts hosts.
type Parser struct {
	cfg    *config.Config
	client llm.Client
	logger logging.Logger
}

// New builds a Parser. client may be nil; the LLM fallback then reports a
// configuration error instead of extracting.
func New(cfg *config.Config, client llm.Client, logger logging.Logger) *Parser {
	p := &Parser{cfg: cfg, logger: logging.OrNop(logger)}
	if client != nil {
		p.client = llm.WithDeadline(client, cfg.LLMTimeout(), p.logger)
	}
	return p
}

// ParseFile reads path and parses its content. The file extension serves as
// the format hint unless the caller supplies one.
func (p *Parser) ParseFile(ctx context.Context, path string, hint Format) *ParseResult {
	data, err := os.ReadFile(path)
	if err != nil {
		result := &ParseResult{SourceType: FormatUnknown, FilePath: path}
		result.addError("read file: " + err.Error())
		return result.finalize()
	}
	if hint == "" {
		hint = formatFromExtension(path)
	}
	result := p.ParseText(ctx, string(data), hint)
	result.FilePath = path
	return result
}

// ParseText parses raw inventory content, detecting the format when no hint
// is given.
func (p *Parser) ParseText(ctx context.Context, content string, hint Format) *ParseResult {
	format := hint
	if format == "" || format == FormatUnknown {
		format = DetectFormat(content)
	}
	p.logger.Debug("parser: format %s, %d bytes", format, len(content))

	result := &ParseResult{SourceType: format}
	switch format {
	case FormatCSV:
		p.parseCSV(content, result)
	case FormatJSON:
		p.parseJSON(content, result)
	case FormatYAML:
		p.parseYAML(content, result)
	case FormatINI:
		p.parseINI(content, result)
	case FormatHostsFile:
		p.parseHostsFile(content, result)
	case FormatSSHConfig:
		p.parseSSHConfig(content, result)
	default:
		p.parseTXT(content, result)
	}

	// A document that matched no structured format and yielded nothing from
	// the plain-text pass is treated as unknown and handed to the gated
	// LLM extraction.
	if (format == FormatTXT || format == FormatUnknown) && len(result.Hosts) == 0 {
		p.llmFallback(ctx, content, result)
	}
	return result.finalize()
}

func formatFromExtension(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".ini":
		return FormatINI
	default:
		if filepath.Base(path) == "hosts" {
			return FormatHostsFile
		}
		return ""
	}
}

var (
	yamlDocMarker  = regexp.MustCompile(`(?m)^---\s*$`)
	yamlKeyPattern = regexp.MustCompile(`(?m)^[ \t]*[A-Za-z_][\w.-]*:[ \t]*(\S.*)?$`)
	iniSection     = regexp.MustCompile(`(?m)^\[[^\]\n]+\]`)
	sshHostLine    = regexp.MustCompile(`(?mi)^[ \t]*Host[ \t]+\S`)
)

// DetectFormat applies the detection priority chain: JSON, YAML, CSV, INI,
// hosts file, SSH config, then plain text.
func DetectFormat(content string) Format {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return FormatTXT
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if json.Valid([]byte(trimmed)) {
			return FormatJSON
		}
	}
	if yamlDocMarker.MatchString(content) || yamlKeyPattern.MatchString(content) {
		return FormatYAML
	}
	if looksLikeCSV(content) {
		return FormatCSV
	}
	if iniSection.MatchString(content) {
		return FormatINI
	}
	if hasLeadingIPv4(content) {
		return FormatHostsFile
	}
	if sshHostLine.MatchString(content) {
		return FormatSSHConfig
	}
	return FormatTXT
}

// looksLikeCSV requires at least two lines whose comma counts agree and are
// non-zero, inspecting at most the first five lines.
func looksLikeCSV(content string) bool {
	lines := nonEmptyLines(content, 5)
	if len(lines) < 2 {
		return false
	}
	want := strings.Count(lines[0], ",")
	if want == 0 {
		return false
	}
	for _, line := range lines[1:] {
		if strings.Count(line, ",") != want {
			return false
		}
	}
	return true
}

func hasLeadingIPv4(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip != nil && ip.To4() != nil {
			return true
		}
	}
	return false
}

func nonEmptyLines(content string, limit int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
