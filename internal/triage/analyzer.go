// Package triage classifies errors and incoming requests. Both classifiers
// are built to answer in well under the orchestrator's budget: keyword
// matching always works offline, and the optional embedding tiers degrade
// to keywords when no embedder is configured.
package triage

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"athena/internal/llm"
	"athena/internal/logging"
)

// ErrorKind buckets executor failures for retry and rendering decisions.
type ErrorKind string

const (
	KindCredential    ErrorKind = "credential"
	KindConnection    ErrorKind = "connection"
	KindPermission    ErrorKind = "permission"
	KindNotFound      ErrorKind = "not_found"
	KindTimeout       ErrorKind = "timeout"
	KindResource      ErrorKind = "resource"
	KindConfiguration ErrorKind = "configuration"
	KindUnknown       ErrorKind = "unknown"
)

// Analysis is the classification of one error string.
type Analysis struct {
	Kind             ErrorKind `json:"kind"`
	Confidence       float64   `json:"confidence"`
	NeedsCredentials bool      `json:"needs_credentials"`
	SuggestedAction  string    `json:"suggested_action"`
	MatchedPattern   string    `json:"matched_pattern,omitempty"`
}

// Keyword patterns per kind. Longer matches are more specific and win; the
// credential publickey pattern must beat the bare permission one.
var errorKeywords = map[ErrorKind][]string{
	KindCredential: {
		"authentication failed", "invalid password", "incorrect password",
		"permission denied (publickey", "access denied for user",
		"login failed", "invalid credentials", "unauthorized",
		"password required", "token expired", "auth fail",
	},
	KindConnection: {
		"connection refused", "no route to host", "network is unreachable",
		"connection reset by peer", "could not resolve host",
		"name or service not known", "host is down", "broken pipe",
		"connection closed by remote host",
	},
	KindPermission: {
		"permission denied", "operation not permitted",
		"read-only file system", "insufficient privileges",
		"must be root", "are you root",
	},
	KindNotFound: {
		"no such file or directory", "command not found",
		"does not exist", "unknown service", "no such container",
		"unit not found", "not found",
	},
	KindTimeout: {
		"timed out", "deadline exceeded", "timeout",
	},
	KindResource: {
		"no space left on device", "out of memory", "cannot allocate memory",
		"disk full", "too many open files", "resource temporarily unavailable",
		"quota exceeded",
	},
	KindConfiguration: {
		"syntax error", "invalid configuration", "bad configuration",
		"unknown option", "invalid argument", "configuration error",
		"failed to parse",
	},
}

var suggestedActions = map[ErrorKind]string{
	KindCredential:    "refresh or re-enter credentials for the target",
	KindConnection:    "check network reachability and that the service is listening",
	KindPermission:    "verify the executing user's permissions or sudoers entry",
	KindNotFound:      "check the path or name; the resource may have moved",
	KindTimeout:       "the operation ran too long; raise the timeout or check load",
	KindResource:      "free disk, memory, or file handles on the target",
	KindConfiguration: "review the command syntax or configuration file",
	KindUnknown:       "inspect the full error output manually",
}

// Reference phrases for the semantic tier.
var referencePhrases = map[ErrorKind][]string{
	KindCredential:    {"the password was rejected", "ssh key authentication failed", "the api token is no longer valid"},
	KindConnection:    {"the host cannot be reached over the network", "nothing is listening on that port", "dns lookup failed for the host"},
	KindPermission:    {"the user is not allowed to perform this operation", "writing to this file requires elevated rights"},
	KindNotFound:      {"the file or directory is missing", "the requested service is not installed"},
	KindTimeout:       {"the command took too long and was aborted"},
	KindResource:      {"the disk is completely full", "the process ran out of memory"},
	KindConfiguration: {"the configuration file contains a syntax mistake", "an unsupported flag was passed"},
}

const (
	semanticThreshold  = 0.6
	embeddingCacheSize = 256
)

// Analyzer classifies error strings. The embedder is optional.
type Analyzer struct {
	embedder llm.Embedder
	cache    *lru.Cache[string, []float32]
	logger   logging.Logger
}

// NewAnalyzer builds an Analyzer. embedder may be nil; classification then
// uses the keyword tier only.
func NewAnalyzer(embedder llm.Embedder, logger logging.Logger) *Analyzer {
	cache, _ := lru.New[string, []float32](embeddingCacheSize)
	return &Analyzer{embedder: embedder, cache: cache, logger: logging.OrNop(logger)}
}

// Analyze classifies one error string. The semantic tier runs first when an
// embedder is available; the keyword tier is the always-on fallback.
func (a *Analyzer) Analyze(ctx context.Context, errText string) Analysis {
	if strings.TrimSpace(errText) == "" {
		return Analysis{Kind: KindUnknown, SuggestedAction: suggestedActions[KindUnknown]}
	}

	if a.embedder != nil {
		if analysis, ok := a.semanticTier(ctx, errText); ok {
			return analysis
		}
	}
	return a.keywordTier(errText)
}

func (a *Analyzer) keywordTier(errText string) Analysis {
	lowered := strings.ToLower(errText)

	bestKind := KindUnknown
	bestPattern := ""
	for kind, keywords := range errorKeywords {
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) && len(keyword) > len(bestPattern) {
				bestKind = kind
				bestPattern = keyword
			}
		}
	}
	if bestKind == KindUnknown {
		return Analysis{Kind: KindUnknown, Confidence: 0.3, SuggestedAction: suggestedActions[KindUnknown]}
	}

	confidence := 0.7 + float64(len(bestPattern))/100
	if confidence > 0.9 {
		confidence = 0.9
	}
	return Analysis{
		Kind:             bestKind,
		Confidence:       confidence,
		NeedsCredentials: bestKind == KindCredential,
		SuggestedAction:  suggestedActions[bestKind],
		MatchedPattern:   bestPattern,
	}
}

func (a *Analyzer) semanticTier(ctx context.Context, errText string) (Analysis, bool) {
	query, err := a.embed(ctx, errText)
	if err != nil {
		a.logger.Debug("triage: embedding failed, keyword tier only: %v", err)
		return Analysis{}, false
	}
	if zeroVector(query) {
		return Analysis{}, false
	}

	bestKind := KindUnknown
	bestScore := 0.0
	bestPhrase := ""
	for kind, phrases := range referencePhrases {
		for _, phrase := range phrases {
			ref, err := a.embed(ctx, phrase)
			if err != nil || zeroVector(ref) {
				continue
			}
			if score := llm.Cosine(query, ref); score > bestScore {
				bestKind, bestScore, bestPhrase = kind, score, phrase
			}
		}
	}
	if bestScore < semanticThreshold {
		return Analysis{}, false
	}
	return Analysis{
		Kind:             bestKind,
		Confidence:       bestScore,
		NeedsCredentials: bestKind == KindCredential,
		SuggestedAction:  suggestedActions[bestKind],
		MatchedPattern:   bestPhrase,
	}, true
}

func (a *Analyzer) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := a.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	a.cache.Add(text, vec)
	return vec, nil
}

func zeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// retryableExitCodes are worth one more attempt even when the error text
// tells us nothing: generic failure, permission, command-not-found.
var retryableExitCodes = map[int]bool{1: true, 126: true, 127: true}

// ShouldRetry decides whether the auto-corrector gets a shot at the
// failure. Connection, timeout, credential and resource problems will not
// be fixed by rewriting the command.
func ShouldRetry(analysis Analysis, exitCode int) bool {
	if analysis.Confidence < semanticThreshold || analysis.Kind == KindUnknown {
		return retryableExitCodes[exitCode]
	}
	switch analysis.Kind {
	case KindPermission, KindNotFound, KindConfiguration:
		return true
	case KindConnection, KindTimeout, KindCredential, KindResource:
		return false
	default:
		return retryableExitCodes[exitCode]
	}
}
