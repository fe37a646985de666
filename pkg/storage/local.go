package storage

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// Local implements Backend on top of the local filesystem, adapted from
// the teacher's path-oriented FileStore: each namespace is a
// subdirectory of root, and each entity is one file within it. An id is
// split on "/" and each segment escaped with [url.PathEscape]
// individually, so a plain id maps to one flat file exactly as before,
// while an id carrying slashes (as produced when [Local.List] discovers
// a pre-existing nested directory layout) round-trips through the same
// nested path it was found at.
type Local struct {
	root string
}

// NewLocal creates a Local Backend rooted at dir. The directory is
// created (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &Error{Kind: KindBackendSpecific, Op: "open", Detail: err.Error(), Err: err}
	}
	return &Local{root: abs}, nil
}

func (l *Local) nsDir(ns string) string {
	return filepath.Join(l.root, filepath.FromSlash(ns))
}

func (l *Local) path(ns, id string) string {
	segments := strings.Split(id, "/")
	escaped := make([]string, len(segments)+1)
	escaped[0] = l.nsDir(ns)
	for i, s := range segments {
		escaped[i+1] = url.PathEscape(s)
	}
	return filepath.Join(escaped...)
}

func (l *Local) Put(_ context.Context, ns, id string, blob []byte) error {
	dir := l.nsDir(ns)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	target := l.path(ns, id)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &Error{Kind: KindBackendSpecific, Op: "put", Ns: ns, ID: id, Err: err}
	}
	return nil
}

func (l *Local) Get(_ context.Context, ns, id string) ([]byte, error) {
	data, err := os.ReadFile(l.path(ns, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindBackendSpecific, Op: "get", Ns: ns, ID: id, Err: err}
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, ns, id string) error {
	err := os.Remove(l.path(ns, id))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &Error{Kind: KindBackendSpecific, Op: "delete", Ns: ns, ID: id, Err: err}
}

// List walks ns's directory tree recursively, not just its top level, so
// a pre-existing nested layout (entities written under per-type
// subdirectories by an older layout) is discovered alongside the flat
// one; a match nested k levels deep reports as an id joining every path
// segment with "/", which [Local.path] resolves back to the same file.
func (l *Local) List(_ context.Context, ns, prefix string) iter.Seq2[Entry, error] {
	dir := l.nsDir(ns)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return func(yield func(Entry, error) bool) {}
	}

	var matched []Entry
	walkErr := filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || strings.HasPrefix(de.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		segments := strings.Split(filepath.ToSlash(rel), "/")
		for i, s := range segments {
			unescaped, err := url.PathUnescape(s)
			if err != nil {
				return nil
			}
			segments[i] = unescaped
		}
		id := strings.Join(segments, "/")
		if !strings.HasPrefix(id, prefix) {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		matched = append(matched, Entry{ID: id, Size: info.Size()})
		return nil
	})
	if walkErr != nil {
		return func(yield func(Entry, error) bool) {
			yield(Entry{}, &Error{Kind: KindBackendSpecific, Op: "list", Ns: ns, Err: walkErr})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return func(yield func(Entry, error) bool) {
		for _, e := range matched {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (l *Local) EstimateUsage(_ context.Context) (Usage, error) {
	var used int64
	err := filepath.WalkDir(l.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		used += info.Size()
		return nil
	})
	if err != nil {
		return Usage{}, &Error{Kind: KindBackendSpecific, Op: "estimate-usage", Err: err}
	}

	quota := UnknownQuota
	details := map[string]any{"root": l.root}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(l.root, &stat); err == nil {
		total := int64(stat.Blocks) * int64(stat.Bsize)
		free := int64(stat.Bavail) * int64(stat.Bsize)
		quota = total
		details["freeBytes"] = free
	}
	return Usage{UsedBytes: used, QuotaBytes: quota, Details: details}, nil
}
