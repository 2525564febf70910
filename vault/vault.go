// Package vault provides typed, race-safe access to the on-disk tree that is
// the authoritative store for intakes, plans, and approvals. All durable
// state outside the Plan Registry lives here; every approval decision in the
// system is a file move within this tree.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/aiemployee/errs"
)

// Fixed top-level directory names, per the persisted vault layout.
const (
	DirInbox            = "Inbox"
	DirNeedsAction       = "Needs_Action"
	DirDone              = "Done"
	DirPlans             = "Plans"
	DirPlansCompleted    = "Plans/completed"
	DirPlansFailed       = "Plans/failed"
	DirPendingApproval   = "Pending_Approval"
	DirApproved          = "Approved"
	DirRejected          = "Rejected"
	DirSocialInbox       = "Social/Inbox"
	DirBusinessAccounting = "Business/Accounting"
	DirBusinessBriefings = "Business/Briefings"
	DirBusinessGoals     = "Business/Goals"
	DirLogs              = "Logs"

	// DirCheckpoints holds per-watcher JSON checkpoints. Not named in the
	// spec's persisted vault layout (§6) since checkpoints are watcher-
	// private state, not a human-facing artifact, but it lives under the
	// same root and shares the same allow-list/atomic-write guarantees.
	DirCheckpoints = ".checkpoints"
)

// allowedParents is the fixed allow-list of directories Store will silently
// create parents for (V3: no operation silently creates parent directories
// outside a fixed allow-list).
var allowedParents = []string{
	DirInbox,
	DirNeedsAction,
	DirDone,
	DirPlans,
	DirPlansCompleted,
	DirPlansFailed,
	DirPendingApproval,
	DirApproved,
	DirRejected,
	DirSocialInbox,
	DirBusinessAccounting,
	DirBusinessBriefings,
	DirBusinessGoals,
	DirLogs,
	DirCheckpoints,
}

// deleteGuardedPrefixes lists the subtrees Delete refuses to touch: approval
// state and plan history must only ever change via Move.
var deleteGuardedPrefixes = []string{
	DirPendingApproval,
	DirApproved,
	DirRejected,
	DirPlans, // covers Plans/, Plans/completed/, Plans/failed/
}

// Store is typed access to one vault root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. It does not create root; callers
// should call EnsureLayout to materialize the fixed directory tree.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Vault("resolve vault root", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute vault root path.
func (s *Store) Root() string { return s.root }

// EnsureLayout creates every fixed top-level directory if missing.
func (s *Store) EnsureLayout() error {
	for _, dir := range allowedParents {
		if err := os.MkdirAll(filepath.Join(s.root, filepath.FromSlash(dir)), 0o755); err != nil {
			return errs.Vault(fmt.Sprintf("create %s", dir), err)
		}
	}
	return nil
}

// resolve converts a vault-relative path into an absolute path, rejecting
// traversal outside the root.
func (s *Store) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", errs.Precondition(fmt.Sprintf("path escapes vault root: %s", relPath), nil)
	}
	return filepath.Join(s.root, clean), nil
}

// allowedParentFor reports whether relPath's directory is within the fixed
// allow-list, so a write/append knows it may create intermediate dirs.
func allowedParentFor(relPath string) bool {
	rel := filepath.ToSlash(filepath.Clean(relPath))
	for _, dir := range allowedParents {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// Read returns the full contents of the file at relPath.
func (s *Store) Read(relPath string) ([]byte, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Vault(fmt.Sprintf("read %s: not found", relPath), err)
		}
		return nil, errs.Vault(fmt.Sprintf("read %s", relPath), err)
	}
	return data, nil
}

// WriteAtomic writes data to relPath by writing to a sibling temp file and
// renaming it into place, so readers never observe a partial write.
func (s *Store) WriteAtomic(relPath string, data []byte) error {
	abs, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if !allowedParentFor(relPath) {
		return errs.Vault(fmt.Sprintf("write %s: parent directory not in allow-list", relPath), nil)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Vault(fmt.Sprintf("create parent for %s", relPath), err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.Vault(fmt.Sprintf("create temp file for %s", relPath), err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Vault(fmt.Sprintf("write temp file for %s", relPath), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Vault(fmt.Sprintf("sync temp file for %s", relPath), err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Vault(fmt.Sprintf("close temp file for %s", relPath), err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return errs.Vault(fmt.Sprintf("rename temp file into %s", relPath), err)
	}
	return nil
}

// Append opens relPath with append-only semantics and writes data, creating
// the file if it does not exist. Used by the audit mirror (V2: writes to any
// logfile use append-only open semantics).
func (s *Store) Append(relPath string, data []byte) error {
	abs, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if !allowedParentFor(relPath) {
		return errs.Vault(fmt.Sprintf("append %s: parent directory not in allow-list", relPath), nil)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errs.Vault(fmt.Sprintf("create parent for %s", relPath), err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Vault(fmt.Sprintf("open %s for append", relPath), err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errs.Vault(fmt.Sprintf("append to %s", relPath), err)
	}
	return f.Sync()
}

// Move renames src to dst atomically within the vault (V1: every move
// preserves inode-level identity). A cross-device rename is reported as a
// vault_error rather than silently falling back to copy-then-delete, per the
// "approval by file move is load-bearing" design note.
func (s *Store) Move(src, dst string) error {
	absSrc, err := s.resolve(src)
	if err != nil {
		return err
	}
	absDst, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if !allowedParentFor(dst) {
		return errs.Vault(fmt.Sprintf("move to %s: parent directory not in allow-list", dst), nil)
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return errs.Vault(fmt.Sprintf("create parent for %s", dst), err)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		if linkErr, ok := err.(*os.LinkError); ok && isCrossDevice(linkErr) {
			return errs.Vault(fmt.Sprintf("move %s to %s: cross-device rename refused", src, dst), err)
		}
		return errs.Vault(fmt.Sprintf("move %s to %s", src, dst), err)
	}
	return nil
}

// Exists reports whether relPath exists in the vault.
func (s *Store) Exists(relPath string) bool {
	abs, err := s.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Delete removes relPath, refusing to touch the approval-protocol or plan
// subtrees (Pending_Approval/, Approved/, Rejected/, Plans/**).
func (s *Store) Delete(relPath string) error {
	if guarded(relPath) {
		return errs.Precondition(fmt.Sprintf("refusing to delete guarded path: %s", relPath), nil)
	}
	abs, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Vault(fmt.Sprintf("delete %s", relPath), err)
	}
	return nil
}

// List returns vault-relative paths matching a doublestar glob pattern,
// e.g. "Inbox/**/*.md" or "Plans/*.md".
func (s *Store) List(glob string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		ok, err := doublestar.Match(glob, rel)
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Vault(fmt.Sprintf("list %s", glob), err)
	}
	return matches, nil
}

// guarded reports whether relPath falls under one of the delete-guarded
// subtrees.
func guarded(relPath string) bool {
	rel := filepath.ToSlash(filepath.Clean(relPath))
	for _, prefix := range deleteGuardedPrefixes {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}
