package sources

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/distr1/whey"
	"golang.org/x/xerrors"
)

// applyPatch applies the unified diff in patch to the tree at root, like
// patch -p1: the first component of every path in the patch is stripped.
func applyPatch(root, patch string) error {
	b, err := os.ReadFile(patch)
	if err != nil {
		return err
	}
	files, _, err := gitdiff.Parse(bytes.NewReader(b))
	if err != nil {
		return &whey.PatchConflictError{Patch: patch, Err: err}
	}
	if len(files) == 0 {
		return &whey.PatchConflictError{Patch: patch, Err: xerrors.New("patch contains no changes")}
	}
	// gitdiff strips a/ and b/ only from names in git headers.
	git := bytes.HasPrefix(b, []byte("diff --git ")) || bytes.Contains(b, []byte("\ndiff --git "))
	for _, file := range files {
		if !git {
			file.OldName = stripComponent(file.OldName)
			file.NewName = stripComponent(file.NewName)
		}
		if err := applyFile(root, patch, file); err != nil {
			return err
		}
	}
	return nil
}

// stripComponent removes the first component of a traditional diff file
// name.
func stripComponent(name string) string {
	if name == "" || name == "/dev/null" {
		return name
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func applyFile(root, patch string, file *gitdiff.File) error {
	name := file.NewName
	if file.IsDelete {
		name = file.OldName
	}
	conflict := func(err error) error {
		return &whey.PatchConflictError{Patch: patch, File: name, Err: err}
	}
	target, err := safeJoin(root, name)
	if err != nil {
		return conflict(err)
	}

	var (
		old  string
		src  []byte
		mode = os.FileMode(0644)
	)
	if !file.IsNew {
		old, err = safeJoin(root, file.OldName)
		if err != nil {
			return conflict(err)
		}
		fi, err := os.Stat(old)
		if err != nil {
			return conflict(err)
		}
		mode = fi.Mode().Perm()
		if src, err = os.ReadFile(old); err != nil {
			return conflict(err)
		}
		if file.IsDelete {
			return os.Remove(old)
		}
	}
	if file.NewMode != 0 {
		mode = file.NewMode.Perm()
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(src), file); err != nil {
		return conflict(err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(target, out.Bytes(), mode); err != nil {
		return err
	}
	if file.IsRename && old != target {
		return os.Remove(old)
	}
	return nil
}
