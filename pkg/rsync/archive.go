package rsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/jvs-project/rsyncer/pkg/fsutil"
)

// ArchiveName is the file name a session log is archived under.
func ArchiveName(sessionID string) string {
	return sessionID + ".log.zst"
}

// archiveLog compresses src into dir and returns the archive path.
func archiveLog(src, dir, sessionID string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open session log: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(dir, ArchiveName(sessionID))
	err = fsutil.AtomicWriteFunc(dst, 0o644, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := io.Copy(enc, in); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return "", err
	}
	return dst, nil
}

// ReadArchive decompresses an archived session log.
func ReadArchive(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
