// Package backup archives and restores the Autofleet SQLite database together
// with an optional config file.
package backup

import (
	"archive/tar"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrExists is returned by Restore when a target file exists and force is
// not set.
var ErrExists = errors.New("file already exists")

// Backup writes a tar.gz archive to outputPath holding a consistent copy of
// the database at dbPath and, when it exists, the config file at configPath.
// The database is copied with VACUUM INTO so a running server can keep
// writing while the backup is taken.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "autofleet-backup-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, filepath.Base(dbPath))
	if err := snapshotDB(ctx, dbPath, snapshot); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	if err := addFile(tw, snapshot, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("add database to archive: %w", err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFile(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("add config to archive: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Close()
}

// Restore extracts every regular file of the archive at inputPath into
// dataDir and returns the restored paths. Entry names are reduced to their
// base name so an archive cannot write outside dataDir.
func Restore(ctx context.Context, inputPath, dataDir string, force bool) ([]string, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var restored []string
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(filepath.Clean(hdr.Name))
		if name == "." || name == ".." || strings.HasPrefix(name, string(filepath.Separator)) {
			continue
		}
		target := filepath.Join(dataDir, name)
		if err := writeFile(tr, target, force); err != nil {
			return restored, err
		}
		restored = append(restored, target)
	}
}

func snapshotDB(ctx context.Context, dbPath, dest string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "VACUUM INTO ?", dest)
	return err
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeFile(r io.Reader, target string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(target, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s: %w (use --force to overwrite)", target, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}
