package policy

import "testing"

func TestEvaluateAllowsUnconfiguredTool(t *testing.T) {
	p := New(map[string]ToolPolicy{}, nil)
	d := p.Evaluate(Context{ToolName: "memory_search", Arguments: map[string]any{}})
	if !d.Allow {
		t.Fatalf("expected allow for a tool absent from the tools map, got denied: %s", d.Reason)
	}
}

func TestEvaluateDeniedWhenDisabled(t *testing.T) {
	p := New(map[string]ToolPolicy{"shell": {Enabled: false}}, nil)
	d := p.Evaluate(Context{ToolName: "shell"})
	if d.Allow {
		t.Fatal("expected deny for disabled tool")
	}
}

func TestEvaluateAllowsEnabledTool(t *testing.T) {
	p := New(map[string]ToolPolicy{"shell": {Enabled: true}}, nil)
	d := p.Evaluate(Context{ToolName: "shell", Arguments: map[string]any{"command": "ls"}})
	if !d.Allow {
		t.Fatalf("expected allow, got denied: %s", d.Reason)
	}
}

func TestEvaluateToolNameAliasing(t *testing.T) {
	p := New(map[string]ToolPolicy{"shell": {Enabled: true}}, nil)
	d := p.Evaluate(Context{ToolName: "bash", Arguments: map[string]any{"command": "ls"}})
	if !d.Allow {
		t.Fatalf("expected bash to resolve to shell's policy, got denied: %s", d.Reason)
	}
}

func TestEvaluateDeniesOnPatternMatch(t *testing.T) {
	p := New(map[string]ToolPolicy{"shell": {Enabled: true}}, []string{"rm -rf"})
	d := p.Evaluate(Context{ToolName: "shell", Arguments: map[string]any{"command": "rm -rf /"}})
	if d.Allow {
		t.Fatal("expected deny for pattern-matched command")
	}
}

func TestEvaluateDenyPatternOnlyScopedToShellCommand(t *testing.T) {
	p := New(map[string]ToolPolicy{"write_file": {Enabled: true}}, []string{"rm -rf"})
	d := p.Evaluate(Context{ToolName: "write_file", Arguments: map[string]any{"path": "/tmp/x", "content": "rm -rf /"}})
	if !d.Allow {
		t.Fatalf("expected deny patterns to only apply to the shell tool's command argument, got denied: %s", d.Reason)
	}
}

func TestEvaluateEnforcesAllowedPaths(t *testing.T) {
	p := New(map[string]ToolPolicy{
		"write_file": {Enabled: true, AllowedPaths: []string{"/workspace"}},
	}, nil)

	denied := p.Evaluate(Context{ToolName: "write_file", Arguments: map[string]any{"path": "/etc/passwd"}})
	if denied.Allow {
		t.Fatal("expected deny for path outside allowlist")
	}

	allowed := p.Evaluate(Context{ToolName: "write_file", Arguments: map[string]any{"path": "/workspace/notes.txt"}})
	if !allowed.Allow {
		t.Fatalf("expected allow for path inside allowlist, got denied: %s", allowed.Reason)
	}
}

func TestEvaluateEnforcesAllowedHosts(t *testing.T) {
	p := New(map[string]ToolPolicy{
		"http": {Enabled: true, AllowedHosts: []string{"api.example.com"}},
	}, nil)

	denied := p.Evaluate(Context{ToolName: "http", Arguments: map[string]any{"url": "https://evil.example.org/x"}})
	if denied.Allow {
		t.Fatal("expected deny for host outside allowlist")
	}

	allowed := p.Evaluate(Context{ToolName: "http", Arguments: map[string]any{"url": "https://api.example.com/v1/thing"}})
	if !allowed.Allow {
		t.Fatalf("expected allow for host inside allowlist, got denied: %s", allowed.Reason)
	}
}

func TestReloadSwapsSnapshotAtomically(t *testing.T) {
	p := New(map[string]ToolPolicy{"shell": {Enabled: false}}, nil)
	if p.Evaluate(Context{ToolName: "shell"}).Allow {
		t.Fatal("expected initial deny")
	}

	p.Reload(map[string]ToolPolicy{"shell": {Enabled: true}}, nil)
	if !p.Evaluate(Context{ToolName: "shell"}).Allow {
		t.Fatal("expected allow after reload enabled the tool")
	}
}
