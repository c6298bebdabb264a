package scope

import (
	"fmt"
	"path"
	"strings"
)

// Action identifies the kind of operation an agent wants to perform
// against a notebook target.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionCreate  Action = "create"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
)

// Scope declares what an agent may touch. It is an immutable value:
// the engine reads it once at run start and never mutates it, even if
// the agent's stored configuration changes concurrently.
type Scope struct {
	Notebooks []string `json:"notebooks"`
	Folders   []string `json:"folders"`
	FileTypes []string `json:"file_types"`

	CanRead    bool `json:"can_read"`
	CanWrite   bool `json:"can_write"`
	CanCreate  bool `json:"can_create"`
	CanDelete  bool `json:"can_delete"`
	CanExecute bool `json:"can_execute"`
}

// Capability returns the flag backing an action.
func (s Scope) Capability(action Action) bool {
	switch action {
	case ActionRead:
		return s.CanRead
	case ActionWrite:
		return s.CanWrite
	case ActionCreate:
		return s.CanCreate
	case ActionDelete:
		return s.CanDelete
	case ActionExecute:
		return s.CanExecute
	default:
		return false
	}
}

// Violation describes a denied action for audit logging.
type Violation struct {
	Action Action `json:"action"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// Error implements the error interface so violations can flow through
// tool-result payloads.
func (v *Violation) Error() string {
	return fmt.Sprintf("scope violation: %s %s: %s", v.Action, v.Target, v.Reason)
}

// Guard decides permission for a single (action, target) pair under a
// fixed scope.
type Guard struct {
	scope Scope
}

// NewGuard creates a guard over an immutable scope snapshot.
func NewGuard(s Scope) *Guard {
	return &Guard{scope: s}
}

// Scope returns the scope the guard was built with.
func (g *Guard) Scope() Scope {
	return g.scope
}

// Allowed reports whether the action may proceed against the target.
// notebookID may be empty when the caller operates on the default
// notebook.
func (g *Guard) Allowed(action Action, target, notebookID string) bool {
	return g.Validate(action, target, notebookID) == nil
}

// Validate returns nil when the action is permitted, otherwise a
// structured violation suitable for the audit log.
//
// Checks run in a fixed order: capability flag, traversal protection,
// folder allow-list, file-type allow-list, notebook allow-list. The
// first failing dimension wins; a disabled capability short-circuits
// everything else. Empty allow-lists deny.
func (g *Guard) Validate(action Action, target, notebookID string) *Violation {
	if !g.scope.Capability(action) {
		return &Violation{Action: action, Target: target, Reason: fmt.Sprintf("capability %q not granted", action)}
	}

	normalized, ok := Normalize(target)
	if !ok {
		return &Violation{Action: action, Target: target, Reason: "path resolves outside the notebook root"}
	}

	if !matchAny(g.scope.Folders, folderMatcher(normalized)) {
		return &Violation{Action: action, Target: target, Reason: "folder not in scope"}
	}

	if !matchAny(g.scope.FileTypes, fileTypeMatcher(normalized)) {
		return &Violation{Action: action, Target: target, Reason: "file type not in scope"}
	}

	if notebookID != "" && !matchAny(g.scope.Notebooks, func(entry string) bool { return entry == notebookID }) {
		return &Violation{Action: action, Target: target, Reason: fmt.Sprintf("notebook %q not in scope", notebookID)}
	}

	return nil
}

// Normalize resolves "." and ".." segments of a notebook-relative path
// and anchors it at the notebook root. The second return value is
// false when the path escapes the root; traversal is detected before
// anchoring, since cleaning an already-rooted path silently swallows
// leading ".." segments.
func Normalize(target string) (string, bool) {
	if strings.ContainsRune(target, 0) {
		return "", false
	}

	rel := strings.TrimPrefix(strings.TrimSpace(target), "/")
	cleaned := path.Clean(rel)

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if cleaned == "." || cleaned == "" {
		return "/", true
	}
	return "/" + cleaned, true
}

func matchAny(entries []string, match func(string) bool) bool {
	for _, entry := range entries {
		if entry == "*" || match(entry) {
			return true
		}
	}
	return false
}

// folderMatcher matches a normalized path against one folder pattern.
// A pattern matches when it globs the full path, globs the parent
// directory, or is a "/dir/*" prefix covering nested entries.
func folderMatcher(normalized string) func(string) bool {
	dir := path.Dir(normalized)
	return func(pattern string) bool {
		if ok, err := path.Match(pattern, normalized); err == nil && ok {
			return true
		}
		if ok, err := path.Match(pattern, dir); err == nil && ok {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "*")
			return strings.HasPrefix(normalized, prefix)
		}
		return pattern == dir
	}
}

// fileTypeMatcher matches the base name against one file-type entry.
// Entries may be globs ("*.md"), dotted extensions (".md"), or bare
// extensions ("md").
func fileTypeMatcher(normalized string) func(string) bool {
	base := path.Base(normalized)
	ext := strings.TrimPrefix(path.Ext(base), ".")
	return func(entry string) bool {
		if strings.ContainsAny(entry, "*?[") {
			ok, err := path.Match(entry, base)
			return err == nil && ok
		}
		return strings.TrimPrefix(entry, ".") == ext
	}
}
