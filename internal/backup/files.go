package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

const (
	backupPrefix = "app"
	safetyPrefix = "pre_restore"
	stampLayout  = "20060102_150405"
)

var backupName = regexp.MustCompile(`^app_\d{8}_\d{6}(_\d+)?\.db$`)

// nextName returns an unused file name in the backup directory for prefix
// and now. Names taken within the same second get a _N suffix.
func (e *Engine) nextName(prefix string, now time.Time) (string, error) {
	base := prefix + "_" + now.UTC().Format(stampLayout)
	for n := 0; n < 1000; n++ {
		name := base + ".db"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.db", base, n)
		}
		path := filepath.Join(e.dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free backup name for %s", base)
}

// ListBackups returns every backup file in the backup directory, newest
// first. Safety copies and unrelated files are not listed.
func (e *Engine) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	paths := []string{}
	for _, ent := range entries {
		if ent.Type().IsRegular() && backupName.MatchString(ent.Name()) {
			paths = append(paths, filepath.Join(e.dir, ent.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// copyFile copies src over dst and syncs it, checking ctx between chunks.
// It is not atomic: on failure dst may hold a partial copy.
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.CopyBuffer(out, ctxReader{ctx: ctx, r: in}, make([]byte, 1<<20)); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}
