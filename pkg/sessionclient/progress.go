package sessionclient

import (
	"io"
	"time"
)

// progressThrottleInterval caps emission at twenty notifications a second,
// the ceiling spec §4.G names for both upload and download progress.
const progressThrottleInterval = 50 * time.Millisecond

// ProgressFunc reports bytes transferred against total. total is the
// known size at transfer start; it does not change mid-transfer.
type ProgressFunc func(sent, total int64)

// progressReader wraps an io.Reader, invoking onProgress as bytes are
// consumed. Grounded on the teacher's Design Notes pattern of wrapping a
// file-like object with a counting layer rather than modifying the
// underlying HTTP call.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	last       time.Time
	onProgress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, onProgress ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		p.report(err != nil)
	}
	return n, err
}

func (p *progressReader) report(force bool) {
	now := time.Now()
	if !force && now.Sub(p.last) < progressThrottleInterval {
		return
	}
	p.last = now
	if p.onProgress != nil {
		p.onProgress(p.sent, p.total)
	}
}

// progressWriter mirrors progressReader for the download path.
type progressWriter struct {
	w          io.Writer
	total      int64
	received   int64
	last       time.Time
	onProgress ProgressFunc
}

func newProgressWriter(w io.Writer, total int64, onProgress ProgressFunc) *progressWriter {
	return &progressWriter{w: w, total: total, onProgress: onProgress}
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	n, err := p.w.Write(buf)
	if n > 0 {
		p.received += int64(n)
		p.report(err != nil)
	}
	return n, err
}

func (p *progressWriter) report(force bool) {
	now := time.Now()
	if !force && now.Sub(p.last) < progressThrottleInterval {
		return
	}
	p.last = now
	if p.onProgress != nil {
		p.onProgress(p.received, p.total)
	}
}
