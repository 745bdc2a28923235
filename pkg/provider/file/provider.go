package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/goscour/pkg/provider"
)

// Provider implements provider.Provider for local filesystem paths.
//
// Keys are treated as relative paths under BaseDir.
//
// This provider backs file:// URIs for offline runs and full-pipeline
// tests without S3. Listing, delimiter grouping, and deletion behave like
// the S3 provider so callers cannot tell the two apart.
type Provider struct {
	baseDir string
}

// Ensure Provider implements provider capability interfaces.
var (
	_ provider.Provider        = (*Provider)(nil)
	_ provider.DelimiterLister = (*Provider)(nil)
	_ provider.PrefixLister    = (*Provider)(nil)
	_ provider.ObjectDeleter   = (*Provider)(nil)
	_ provider.BatchDeleter    = (*Provider)(nil)
	_ provider.ObjectPutter    = (*Provider)(nil)
)

// MaxDeleteBatch mirrors the S3 batch limit so batch-mode runs behave the
// same against file:// trees as against S3.
const MaxDeleteBatch = 1000

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	return &Provider{baseDir: base}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	_ = ctx
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := p.collectKeys(prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		idx := sort.SearchStrings(keys, opts.ContinuationToken)
		for idx < len(keys) && keys[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := start + maxKeys
	if end > len(keys) {
		end = len(keys)
	}

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := p.fullPath(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

// ListWithDelimiter groups keys the way S3 does: objects whose remainder
// after the prefix contains no delimiter, plus the deduplicated child
// prefixes. Objects and prefixes share one lexicographic page so MaxKeys
// and continuation tokens behave like the real API.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	_ = ctx
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	delimiter := opts.Delimiter
	if delimiter == "" {
		delimiter = "/"
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := p.collectKeys(prefix)
	if err != nil {
		return nil, p.wrapError("ListWithDelimiter", opts.Prefix, err)
	}
	sort.Strings(keys)

	prefixSet := make(map[string]bool)
	isPrefix := make(map[string]bool)
	var entries []string
	for _, k := range keys {
		rem := strings.TrimPrefix(k, prefix)
		if idx := strings.Index(rem, delimiter); idx >= 0 {
			cp := prefix + rem[:idx+len(delimiter)]
			if !prefixSet[cp] {
				prefixSet[cp] = true
				isPrefix[cp] = true
				entries = append(entries, cp)
			}
			continue
		}
		entries = append(entries, k)
	}
	sort.Strings(entries)

	start := 0
	if opts.ContinuationToken != "" {
		idx := sort.SearchStrings(entries, opts.ContinuationToken)
		for idx < len(entries) && entries[idx] <= opts.ContinuationToken {
			idx++
		}
		start = idx
	}

	end := start + maxKeys
	if end > len(entries) {
		end = len(entries)
	}

	result := &provider.ListWithDelimiterResult{
		Objects:        make([]provider.ObjectSummary, 0, end-start),
		CommonPrefixes: make([]string, 0),
	}
	for _, e := range entries[start:end] {
		if isPrefix[e] {
			result.CommonPrefixes = append(result.CommonPrefixes, e)
			continue
		}
		full, err := p.fullPath(e)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		result.Objects = append(result.Objects, provider.ObjectSummary{Key: e, Size: st.Size(), LastModified: st.ModTime()})
	}

	if end < len(entries) {
		result.IsTruncated = true
		result.ContinuationToken = entries[end-1]
	}
	return result, nil
}

// ListCommonPrefixes returns only the immediate child prefixes under a prefix.
func (p *Provider) ListCommonPrefixes(ctx context.Context, opts provider.ListCommonPrefixesOptions) (*provider.ListCommonPrefixesResult, error) {
	res, err := p.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
		Prefix:            opts.Prefix,
		Delimiter:         opts.Delimiter,
		ContinuationToken: opts.ContinuationToken,
	})
	if err != nil {
		return nil, err
	}

	return &provider.ListCommonPrefixesResult{
		Prefixes:          res.CommonPrefixes,
		ContinuationToken: res.ContinuationToken,
		IsTruncated:       res.IsTruncated,
	}, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
		}
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
		ContentType:   "",
		Metadata:      nil,
	}, nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = ctx
	_ = contentLength
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "goscour-put-*")
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject removes a file.
//
// A missing file surfaces as an error wrapping ErrNotFound. Callers decide
// what that means; removal counts it as success since the goal (file
// absent) is achieved.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return &provider.ProviderError{Op: "DeleteObject", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
		}
		return p.wrapError("DeleteObject", key, err)
	}

	// Prune now-empty parents so a fully removed prefix leaves no skeleton.
	p.pruneEmptyDirs(filepath.Dir(full))
	return nil
}

// DeleteObjects removes up to MaxDeleteBatch keys one file at a time.
//
// Filesystems have no native batch call; this exists so batch-mode runs
// work against file:// trees. Missing files come back as per-key failures
// wrapping ErrNotFound, which batch callers count as success.
func (p *Provider) DeleteObjects(ctx context.Context, keys []string) ([]provider.DeleteError, error) {
	if len(keys) > MaxDeleteBatch {
		return nil, p.wrapError("DeleteObjects", "", fmt.Errorf("batch of %d keys exceeds limit of %d", len(keys), MaxDeleteBatch))
	}

	var failed []provider.DeleteError
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return failed, p.wrapError("DeleteObjects", key, err)
		}
		if err := p.DeleteObject(ctx, key); err != nil {
			failed = append(failed, provider.DeleteError{Key: key, Err: err})
		}
	}
	return failed, nil
}

// MaxBatchSize returns the largest batch DeleteObjects accepts.
func (p *Provider) MaxBatchSize() int {
	return MaxDeleteBatch
}

// pruneEmptyDirs removes empty directories from dir up to (not including)
// baseDir. The walk stops at the first non-empty directory. Races with
// concurrent deleters are harmless: os.Remove fails on non-empty dirs and
// the error is ignored.
func (p *Provider) pruneEmptyDirs(dir string) {
	for {
		if dir == p.baseDir || dir == "." || dir == string(filepath.Separator) {
			return
		}
		rel, err := filepath.Rel(p.baseDir, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys returns every file key beginning with prefix.
//
// An S3 prefix is a string prefix of keys, not necessarily a directory, so
// the walk starts at the deepest directory the prefix names and the
// remainder is matched as a string.
func (p *Provider) collectKeys(prefix string) ([]string, error) {
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		if idx := strings.LastIndex(dir, "/"); idx >= 0 {
			dir = dir[:idx+1]
		} else {
			dir = ""
		}
	}

	root, err := p.fullPath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}
		keys = append(keys, rel)
		return nil
	})
	return keys, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

// File providers don't use ETag; records carry size and modified time only.
