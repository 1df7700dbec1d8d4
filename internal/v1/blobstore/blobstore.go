// Package blobstore implements the Blob Store (spec §4.C): the per-room
// directory holding uploaded media, write-with-cap, and byte-range
// streaming reads. The teacher has no file-storage component of its own,
// so this is grounded on the local-disk filesystem idiom from the rest of
// the example pack (helixml-helix's filestore.FileSystemStorage): join a
// sanitized path under a base directory, os.MkdirAll the parent, and
// io.Copy into an os.Create'd file.
package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ukunda/rdm/internal/v1/apperr"
	"github.com/ukunda/rdm/internal/v1/types"
)

// chunkSize bounds a single read/write syscall so a large transfer never
// stalls the goroutine driving it for longer than one chunk (spec §5
// "reads use bounded chunk sizes (<= 64 KiB) to stay responsive").
const chunkSize = 64 * 1024

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store owns the on-disk bytes backing every Room's video catalogue.
type Store struct {
	root     string
	capBytes int64
}

// New builds a Store rooted at root, rejecting uploads once their
// cumulative size exceeds capBytes.
func New(root string, capBytes int64) *Store {
	return &Store{root: root, capBytes: capBytes}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	cleaned := unsafeFilenameChars.ReplaceAllString(base, "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "upload"
	}
	return cleaned
}

func (s *Store) roomDir(roomCode types.RoomCode) string {
	return filepath.Join(s.root, string(roomCode))
}

// Write streams r into a fresh file under the room's directory, enforcing
// the hard byte cap (spec §4.C `write`, testable property 10). The
// returned video id is a fresh random identifier; the stored filename is
// derived from it plus a sanitized form of providedName.
func (s *Store) Write(roomCode types.RoomCode, providedName string, r io.Reader) (types.VideoID, int64, error) {
	dir := s.roomDir(roomCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, apperr.Wrap(apperr.KindTransient, "failed to create room upload directory", err)
	}

	videoID := types.VideoID(uuid.NewString())
	storedName := fmt.Sprintf("%s_%s", videoID, sanitizeFilename(providedName))
	fullPath := filepath.Join(dir, storedName)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindTransient, "failed to create upload file", err)
	}

	var written int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.capBytes {
				f.Close()
				os.Remove(fullPath)
				return "", 0, apperr.New(apperr.KindPayloadTooLarge, "upload exceeds the configured size cap")
			}
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(fullPath)
				return "", 0, apperr.Wrap(apperr.KindTransient, "failed to write upload bytes", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(fullPath)
			return "", 0, apperr.Wrap(apperr.KindTransient, "failed to read upload bytes", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", 0, apperr.Wrap(apperr.KindTransient, "failed to finalize upload file", err)
	}
	return videoID, written, nil
}

// RangeResult is a bounded byte stream plus the HTTP range bookkeeping
// needed to render Content-Range / Content-Length headers.
type RangeResult struct {
	Reader io.ReadCloser
	Start  int64
	End    int64 // inclusive
	Total  int64
}

type boundedFile struct {
	io.Reader
	file *os.File
}

func (b *boundedFile) Close() error { return b.file.Close() }

// OpenRange returns a bounded reader over [start, end] (end inclusive) of
// videoID's bytes within roomCode (spec §4.C `openRange`). start and end
// are nil when absent from the request's Range header; an absent start
// defaults to zero, an absent or out-of-bounds end defaults to the last
// byte.
func (s *Store) OpenRange(roomCode types.RoomCode, videoID types.VideoID, start, end *int64) (*RangeResult, error) {
	path, err := s.findStoredPath(roomCode, videoID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "video file missing on disk", err)
	}
	total := info.Size()

	rangeStart := int64(0)
	if start != nil && *start > 0 {
		rangeStart = *start
	}
	rangeEnd := total - 1
	if end != nil && *end < rangeEnd && *end >= rangeStart {
		rangeEnd = *end
	}
	if rangeStart > rangeEnd || rangeStart >= total {
		return nil, apperr.New(apperr.KindMalformedInput, "requested range is not satisfiable")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "failed to open video file", err)
	}
	if _, err := f.Seek(rangeStart, io.SeekStart); err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.KindTransient, "failed to seek video file", err)
	}

	length := rangeEnd - rangeStart + 1
	return &RangeResult{
		Reader: &boundedFile{Reader: io.LimitReader(f, length), file: f},
		Start:  rangeStart,
		End:    rangeEnd,
		Total:  total,
	}, nil
}

func (s *Store) findStoredPath(roomCode types.RoomCode, videoID types.VideoID) (string, error) {
	dir := s.roomDir(roomCode)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNotFound, "room has no uploaded videos", err)
	}
	prefix := string(videoID) + "_"
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", apperr.New(apperr.KindNotFound, "video not found")
}

// DropRoom recursively removes roomCode's directory (spec §4.C
// `dropRoom`). Idempotent: removing an already-gone directory is a no-op.
func (s *Store) DropRoom(roomCode types.RoomCode) error {
	if err := os.RemoveAll(s.roomDir(roomCode)); err != nil {
		return apperr.Wrap(apperr.KindTransient, "failed to remove room upload directory", err)
	}
	return nil
}
