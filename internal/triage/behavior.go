package triage

import "time"

// ConfirmMode controls which commands need an interactive confirmation.
type ConfirmMode string

const (
	ConfirmCriticalOnly ConfirmMode = "critical_only"
	ConfirmWritesOnly   ConfirmMode = "writes_only"
	ConfirmAll          ConfirmMode = "all"
)

// ResponseFormat controls how much the presenter renders.
type ResponseFormat string

const (
	FormatTerse    ResponseFormat = "terse"
	FormatStandard ResponseFormat = "standard"
	FormatDetailed ResponseFormat = "detailed"
)

// Behavior is the operating profile derived from a priority. The orchestrator
// reads it to budget analysis time, parallelism and confirmations.
type Behavior struct {
	MaxAnalysisTime        time.Duration  `json:"max_analysis_time"`
	UseChainOfThought      bool           `json:"use_chain_of_thought"`
	ShowThinking           bool           `json:"show_thinking"`
	ParallelExecution      bool           `json:"parallel_execution"`
	AutoConfirmReads       bool           `json:"auto_confirm_reads"`
	AutoConfirmWrites      bool           `json:"auto_confirm_writes"`
	MaxCommandsBeforePause int            `json:"max_commands_before_pause"`
	ConfirmationMode       ConfirmMode    `json:"confirmation_mode"`
	Format                 ResponseFormat `json:"format"`
}

var behaviorProfiles = map[Priority]Behavior{
	P0: {
		MaxAnalysisTime:        5 * time.Second,
		UseChainOfThought:      false,
		ShowThinking:           false,
		ParallelExecution:      true,
		AutoConfirmReads:       true,
		AutoConfirmWrites:      false,
		MaxCommandsBeforePause: 10,
		ConfirmationMode:       ConfirmCriticalOnly,
		Format:                 FormatTerse,
	},
	P1: {
		MaxAnalysisTime:        30 * time.Second,
		UseChainOfThought:      true,
		ShowThinking:           false,
		ParallelExecution:      true,
		AutoConfirmReads:       true,
		AutoConfirmWrites:      false,
		MaxCommandsBeforePause: 8,
		ConfirmationMode:       ConfirmCriticalOnly,
		Format:                 FormatStandard,
	},
	P2: {
		MaxAnalysisTime:        120 * time.Second,
		UseChainOfThought:      true,
		ShowThinking:           true,
		ParallelExecution:      false,
		AutoConfirmReads:       true,
		AutoConfirmWrites:      false,
		MaxCommandsBeforePause: 5,
		ConfirmationMode:       ConfirmWritesOnly,
		Format:                 FormatDetailed,
	},
	P3: {
		MaxAnalysisTime:        300 * time.Second,
		UseChainOfThought:      true,
		ShowThinking:           true,
		ParallelExecution:      false,
		AutoConfirmReads:       false,
		AutoConfirmWrites:      false,
		MaxCommandsBeforePause: 3,
		ConfirmationMode:       ConfirmAll,
		Format:                 FormatDetailed,
	},
}

// BehaviorFor returns the operating profile for a priority. Unknown values
// fall back to the most cautious profile.
func BehaviorFor(p Priority) Behavior {
	if b, ok := behaviorProfiles[p]; ok {
		return b
	}
	return behaviorProfiles[P3]
}

// ShouldConfirm reports whether a command with the given traits needs an
// explicit confirmation under this profile.
func (b Behavior) ShouldConfirm(isWrite, isCritical bool) bool {
	switch b.ConfirmationMode {
	case ConfirmCriticalOnly:
		return isCritical
	case ConfirmWritesOnly:
		return isWrite || isCritical
	default:
		return true
	}
}

// ShouldAutoConfirm reports whether the profile confirms the command on the
// user's behalf.
func (b Behavior) ShouldAutoConfirm(isWrite bool) bool {
	if isWrite {
		return b.AutoConfirmWrites
	}
	return b.AutoConfirmReads
}
