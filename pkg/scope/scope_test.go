package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullAccessScope() Scope {
	return Scope{
		Notebooks: []string{"*"},
		Folders:   []string{"*"},
		FileTypes: []string{"*"},
		CanRead:   true,
		CanWrite:  true,
		CanCreate: true,
		CanDelete: true,
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
		ok     bool
	}{
		{"simple", "/notes/a.md", "/notes/a.md", true},
		{"relative", "notes/a.md", "/notes/a.md", true},
		{"dot segments", "/notes/./a.md", "/notes/a.md", true},
		{"internal dotdot", "/notes/sub/../a.md", "/notes/a.md", true},
		{"escape", "/../etc/passwd", "", false},
		{"relative escape", "../secrets.md", "", false},
		{"deep escape", "/notes/../../etc/passwd", "", false},
		{"root", "/", "/", true},
		{"empty", "", "/", true},
		{"null byte", "/notes/a\x00.md", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.target)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGuardDeniesTraversalDespiteWildcards(t *testing.T) {
	guard := NewGuard(fullAccessScope())

	targets := []string{
		"../escape.md",
		"/../escape.md",
		"/notes/../../escape.md",
		"/a/b/../../../escape.md",
	}
	for _, target := range targets {
		violation := guard.Validate(ActionRead, target, "")
		assert.NotNil(t, violation, "target %q must be denied", target)
		assert.Contains(t, violation.Reason, "outside the notebook root")
	}
}

func TestGuardCapabilityGate(t *testing.T) {
	s := fullAccessScope()
	s.CanWrite = false
	s.CanDelete = false
	guard := NewGuard(s)

	assert.True(t, guard.Allowed(ActionRead, "/notes/a.md", ""))
	assert.False(t, guard.Allowed(ActionWrite, "/notes/a.md", ""))
	assert.False(t, guard.Allowed(ActionDelete, "/notes/a.md", ""))
	assert.False(t, guard.Allowed(ActionExecute, "/notes/a.md", ""))

	violation := guard.Validate(ActionWrite, "/notes/a.md", "")
	assert.Contains(t, violation.Reason, `capability "write"`)
}

func TestGuardFolderAndFileTypeScoping(t *testing.T) {
	guard := NewGuard(Scope{
		Notebooks: []string{"*"},
		Folders:   []string{"/experiments/*"},
		FileTypes: []string{"*.md"},
		CanRead:   true,
	})

	t.Run("allowed read inside scope", func(t *testing.T) {
		assert.True(t, guard.Allowed(ActionRead, "/experiments/log.md", ""))
	})

	t.Run("nested path under scoped folder", func(t *testing.T) {
		assert.True(t, guard.Allowed(ActionRead, "/experiments/2026/log.md", ""))
	})

	t.Run("folder mismatch", func(t *testing.T) {
		violation := guard.Validate(ActionRead, "/secrets/keys.md", "")
		assert.NotNil(t, violation)
		assert.Equal(t, "folder not in scope", violation.Reason)
	})

	t.Run("file type mismatch", func(t *testing.T) {
		violation := guard.Validate(ActionRead, "/experiments/data.csv", "")
		assert.NotNil(t, violation)
		assert.Equal(t, "file type not in scope", violation.Reason)
	})

	t.Run("capability denied before path checks", func(t *testing.T) {
		violation := guard.Validate(ActionWrite, "/experiments/log.md", "")
		assert.NotNil(t, violation)
		assert.Contains(t, violation.Reason, "capability")
	})
}

func TestGuardNotebookAllowList(t *testing.T) {
	guard := NewGuard(Scope{
		Notebooks: []string{"research"},
		Folders:   []string{"*"},
		FileTypes: []string{"*"},
		CanRead:   true,
	})

	assert.True(t, guard.Allowed(ActionRead, "/a.md", "research"))
	assert.False(t, guard.Allowed(ActionRead, "/a.md", "personal"))
	// No notebook supplied: the notebook dimension is skipped.
	assert.True(t, guard.Allowed(ActionRead, "/a.md", ""))
}

func TestEmptyScopeDeniesByDefault(t *testing.T) {
	guard := NewGuard(Scope{CanRead: true})

	violation := guard.Validate(ActionRead, "/notes/a.md", "")
	assert.NotNil(t, violation)
	assert.Equal(t, "folder not in scope", violation.Reason)
}

func TestFileTypeEntryForms(t *testing.T) {
	for _, entry := range []string{"*.md", ".md", "md"} {
		guard := NewGuard(Scope{
			Folders:   []string{"*"},
			FileTypes: []string{entry},
			CanRead:   true,
		})
		assert.True(t, guard.Allowed(ActionRead, "/notes/a.md", ""), "entry %q", entry)
		assert.False(t, guard.Allowed(ActionRead, "/notes/a.txt", ""), "entry %q", entry)
	}
}
