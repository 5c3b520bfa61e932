// Package presenter renders failures and triage outcomes for humans.
// Strings are localized; English is the fallback for any missing entry.
package presenter

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"athena/internal/executor"
	"athena/internal/triage"
)

// Supported languages.
const (
	LangEN = "en"
	LangFR = "fr"
)

var (
	headerStyle = color.New(color.Bold, color.FgRed).SprintFunc()
	titleStyle  = color.New(color.Bold).SprintFunc()
)

const stderrExcerptLimit = 200

// Presenter renders in one configured language.
type Presenter struct {
	lang string
}

// New builds a Presenter; unknown languages fall back to English.
func New(lang string) *Presenter {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != LangFR {
		lang = LangEN
	}
	return &Presenter{lang: lang}
}

type labels struct {
	failed      string
	target      string
	exitCode    string
	output      string
	suggestions string
	priority    string
	intent      string
	environment string
	service     string
	host        string
	escalation  string
}

var labelSets = map[string]labels{
	LangEN: {
		failed:      "Command failed",
		target:      "Target",
		exitCode:    "Exit code",
		output:      "Error output",
		suggestions: "Suggestions",
		priority:    "Priority",
		intent:      "Intent",
		environment: "Environment",
		service:     "Service",
		host:        "Host",
		escalation:  "Escalation required",
	},
	LangFR: {
		failed:      "Échec de la commande",
		target:      "Cible",
		exitCode:    "Code de sortie",
		output:      "Sortie d'erreur",
		suggestions: "Suggestions",
		priority:    "Priorité",
		intent:      "Intention",
		environment: "Environnement",
		service:     "Service",
		host:        "Hôte",
		escalation:  "Escalade requise",
	},
}

// Per-kind remediation bullets, 3 to 5 each.
var suggestionSets = map[string]map[triage.ErrorKind][]string{
	LangEN: {
		triage.KindPermission: {
			"the system may have tried an elevated operation; verify the sudoers entry for this user",
			"check ownership and mode of the files the command touches",
			"privilege elevation is never added automatically; rerun with proper rights if intended",
		},
		triage.KindCredential: {
			"the stored token or password may be expired; refresh the credentials",
			"verify the SSH key or password configured for this host",
			"check that the remote account is not locked",
		},
		triage.KindConnection: {
			"verify the host is reachable (ping, traceroute)",
			"check that the service is listening on the expected port",
			"look for firewall rules or DNS changes",
		},
		triage.KindNotFound: {
			"check the spelling of the path or command",
			"the package providing the command may not be installed",
			"the resource may have been moved or deleted",
		},
		triage.KindTimeout: {
			"the operation ran past its deadline; raise the timeout if legitimate",
			"check load and IO pressure on the target",
			"consider running the operation in smaller steps",
		},
		triage.KindResource: {
			"free disk space or memory on the target",
			"check for runaway processes holding resources",
			"review quotas and open-file limits",
		},
		triage.KindConfiguration: {
			"validate the configuration file syntax",
			"check for recently changed options",
			"compare against a known-good configuration",
		},
		triage.KindUnknown: {
			"inspect the full error output",
			"rerun with verbose logging",
			"check the service logs on the target",
		},
	},
	LangFR: {
		triage.KindPermission: {
			"le système a peut-être tenté une opération élevée ; vérifiez l'entrée sudoers de cet utilisateur",
			"vérifiez le propriétaire et les droits des fichiers touchés par la commande",
			"l'élévation de privilèges n'est jamais ajoutée automatiquement ; relancez avec les bons droits si voulu",
		},
		triage.KindCredential: {
			"le jeton ou mot de passe stocké a peut-être expiré ; renouvelez les identifiants",
			"vérifiez la clé SSH ou le mot de passe configuré pour cet hôte",
			"vérifiez que le compte distant n'est pas verrouillé",
		},
		triage.KindConnection: {
			"vérifiez que l'hôte est joignable (ping, traceroute)",
			"vérifiez que le service écoute sur le port attendu",
			"cherchez des règles de pare-feu ou des changements DNS",
		},
		triage.KindNotFound: {
			"vérifiez l'orthographe du chemin ou de la commande",
			"le paquet fournissant la commande n'est peut-être pas installé",
			"la ressource a peut-être été déplacée ou supprimée",
		},
		triage.KindTimeout: {
			"l'opération a dépassé son délai ; augmentez le délai si légitime",
			"vérifiez la charge et la pression IO sur la cible",
			"envisagez de découper l'opération en étapes plus petites",
		},
		triage.KindResource: {
			"libérez de l'espace disque ou de la mémoire sur la cible",
			"cherchez des processus incontrôlés qui retiennent des ressources",
			"examinez les quotas et limites de fichiers ouverts",
		},
		triage.KindConfiguration: {
			"validez la syntaxe du fichier de configuration",
			"vérifiez les options récemment modifiées",
			"comparez avec une configuration connue comme valide",
		},
		triage.KindUnknown: {
			"examinez la sortie d'erreur complète",
			"relancez avec des journaux détaillés",
			"consultez les journaux du service sur la cible",
		},
	},
}

func (p *Presenter) labels() labels { return labelSets[p.lang] }

// RenderFailure formats a failed execution: what ran, where, why, and what
// to try next.
func (p *Presenter) RenderFailure(result executor.Result) string {
	l := p.labels()
	kind := triage.KindUnknown
	if result.ErrorAnalysis != nil {
		kind = result.ErrorAnalysis.Kind
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", headerStyle(l.failed), result.Command)
	fmt.Fprintf(&b, "%s: %s\n", l.target, result.Target)
	fmt.Fprintf(&b, "%s: %d\n", l.exitCode, result.ExitCode)

	stderr := strings.TrimSpace(result.Stderr)
	if stderr == "" {
		stderr = result.Error
	}
	if stderr != "" {
		if runes := []rune(stderr); len(runes) > stderrExcerptLimit {
			stderr = string(runes[:stderrExcerptLimit])
		}
		fmt.Fprintf(&b, "%s: %s\n", l.output, stderr)
	}

	suggestions := suggestionSets[p.lang][kind]
	if len(suggestions) == 0 {
		suggestions = suggestionSets[LangEN][kind]
	}
	fmt.Fprintf(&b, "%s:\n", l.suggestions)
	for _, s := range suggestions {
		fmt.Fprintf(&b, "  - %s\n", s)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderTriage formats the classification summary shown before the
// tool-dispatch loop starts.
func (p *Presenter) RenderTriage(result triage.Result) string {
	l := p.labels()
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s  %s: %s  (%.0f%%)\n",
		titleStyle(l.priority), result.Priority, l.intent, result.Intent, result.Confidence*100)
	if result.EnvironmentDetected != "" {
		fmt.Fprintf(&b, "%s: %s\n", l.environment, result.EnvironmentDetected)
	}
	if result.ServiceDetected != "" {
		fmt.Fprintf(&b, "%s: %s\n", l.service, result.ServiceDetected)
	}
	if result.HostDetected != "" {
		fmt.Fprintf(&b, "%s: %s\n", l.host, result.HostDetected)
	}
	if result.EscalationRequired {
		fmt.Fprintf(&b, "%s\n", headerStyle(l.escalation))
	}
	return strings.TrimRight(b.String(), "\n")
}
