// Package policy evaluates whether a tool call should proceed: per-tool
// enablement, allowed filesystem paths, allowed HTTP hosts, and a shared
// deny-pattern list checked against the call's arguments.
package policy

import (
	"fmt"
	"strings"
	"sync"
)

// Context describes one pending tool call, gathered by the Wrapper
// (internal/tools) before execution.
type Context struct {
	SessionID string
	ToolName  string
	Arguments map[string]any
}

// Decision is the result of Evaluate.
type Decision struct {
	Allow  bool
	Reason string
}

// ToolPolicy is the per-tool configuration block.
type ToolPolicy struct {
	Enabled      bool
	AllowedPaths []string // prefix allowlist, checked for file tools
	AllowedHosts []string // checked for the http tool
}

// aliases maps alternate tool names onto the canonical name a policy entry
// is keyed by, so config authors only have to write one entry per concern
// even though the registry may expose both spellings.
var aliases = map[string]string{
	"bash":      "shell",
	"edit_file": "write_file",
	"write":     "write_file",
	"read":      "read_file",
}

// Canonical resolves a tool name to the name its policy entry is keyed
// under.
func Canonical(toolName string) string {
	if canon, ok := aliases[toolName]; ok {
		return canon
	}
	return toolName
}

// Policy is the hot-reloadable security policy. All fields are guarded by
// mu; Reload swaps the whole snapshot in one lock acquisition so a policy
// check never observes a half-updated config.
type Policy struct {
	mu           sync.RWMutex
	tools        map[string]ToolPolicy
	denyPatterns []string
}

// New builds a Policy from its initial configuration.
func New(tools map[string]ToolPolicy, denyPatterns []string) *Policy {
	p := &Policy{}
	p.set(tools, denyPatterns)
	return p
}

// Reload atomically replaces the policy's tool table and deny patterns,
// callable from a config hot-reload without restarting the process.
func (p *Policy) Reload(tools map[string]ToolPolicy, denyPatterns []string) {
	p.set(tools, denyPatterns)
}

func (p *Policy) set(tools map[string]ToolPolicy, denyPatterns []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
	p.denyPatterns = denyPatterns
}

// Evaluate checks a pending tool call against the current policy
// snapshot: the tool must be enabled, any path/host argument must match
// an allowlist entry, and a shell command may not contain a deny pattern.
func (p *Policy) Evaluate(ctx Context) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	canon := Canonical(ctx.ToolName)
	tp, known := p.tools[canon]
	if !known {
		// A tool absent from the config's tools map is allowed by default;
		// the map only lists tools an operator wants to *restrict*
		// (enable/disable, scope to an allowlist). Without an explicit
		// entry there's nothing to restrict against.
		return Decision{Allow: true, Reason: fmt.Sprintf("%s_allowed_unconfigured", canon)}
	}
	if !tp.Enabled {
		return Decision{Allow: false, Reason: fmt.Sprintf("tool_disabled: %s", canon)}
	}

	if canon == "shell" {
		if reason := p.checkDeny(ctx.Arguments); reason != "" {
			return Decision{Allow: false, Reason: reason}
		}
	}

	if path, ok := stringArg(ctx.Arguments, "path", "file", "working_dir"); ok && len(tp.AllowedPaths) > 0 {
		if !matchesAnyPrefix(path, tp.AllowedPaths) {
			return Decision{Allow: false, Reason: fmt.Sprintf("path_not_allowed: %s", path)}
		}
	}

	if host, ok := stringArg(ctx.Arguments, "url", "host"); ok && len(tp.AllowedHosts) > 0 {
		if !matchesHost(host, tp.AllowedHosts) {
			return Decision{Allow: false, Reason: fmt.Sprintf("host_not_allowed: %s", host)}
		}
	}

	return Decision{Allow: true, Reason: fmt.Sprintf("%s_allowed", canon)}
}

// checkDeny matches the shell tool's command argument against the deny
// list as plain substrings, not regexps: the list is meant to catch
// literal fragments like "rm -rf" or "$(curl", and a pattern with
// regexp metacharacters should deny exactly what it says rather than
// fail to compile and get silently dropped.
func (p *Policy) checkDeny(args map[string]any) string {
	command, ok := stringArg(args, "command")
	if !ok {
		return ""
	}
	for _, pat := range p.denyPatterns {
		if strings.Contains(command, pat) {
			return fmt.Sprintf("deny_pattern_matched: %s", pat)
		}
	}
	return ""
}

func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func matchesHost(urlOrHost string, allowed []string) bool {
	host := urlOrHost
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, "/:"); idx >= 0 {
		host = host[:idx]
	}
	for _, a := range allowed {
		if strings.EqualFold(host, a) {
			return true
		}
	}
	return false
}
