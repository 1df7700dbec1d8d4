package sessionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ukunda/rdm/internal/v1/types"
)

// UploadAndShare streams localPath to the upload endpoint with throttled
// progress, then sends play_video on success (spec §4.G Upload). On
// failure it emits a channel error and returns it; it never records a
// local path or sends play_video for a failed upload.
func (c *Client) UploadAndShare(ctx context.Context, localPath string, onProgress ProgressFunc) error {
	file, err := os.Open(localPath)
	if err != nil {
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	contentType := writer.FormDataContentType()

	go func() {
		defer pw.Close()

		if err := writer.WriteField("user_id", c.currentUserID()); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := writer.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		progressed := newProgressReader(file, info.Size(), func(sent, total int64) {
			c.emit(Event{Type: EventUploadProgress, Progress: &ProgressEvent{Sent: sent, Total: total}})
			if onProgress != nil {
				onProgress(sent, total)
			}
		})
		if _, err := io.Copy(part, progressed); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.Close(); err != nil {
			pw.CloseWithError(err)
		}
	}()

	uploadURL := c.baseURL + "/rooms/" + string(c.currentRoomCode()) + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		uploadErr := &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		c.emit(Event{Type: EventChannelError, Err: uploadErr})
		return uploadErr
	}

	var result struct {
		VideoID  types.VideoID `json:"video_id"`
		Filename string        `json:"filename"`
		Size     int64         `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}

	c.mu.Lock()
	c.localPaths[result.VideoID] = localPath
	c.mu.Unlock()

	return c.SendPlayVideo(result.VideoID)
}

// DownloadVideo streams videoID's bytes to a local cache file with
// throttled progress, emitting video_ready on completion (spec §4.G
// Download). A video already cached locally is reported immediately
// without re-fetching it.
func (c *Client) DownloadVideo(ctx context.Context, videoID types.VideoID, onProgress ProgressFunc) error {
	if existing, ok := c.LocalPath(videoID); ok {
		c.emit(Event{Type: EventVideoReady, VideoReady: &VideoReadyEvent{VideoID: videoID, LocalPath: existing}})
		return nil
	}

	downloadURL := c.baseURL + "/rooms/" + string(c.currentRoomCode()) + "/videos/" + string(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.emit(Event{Type: EventChannelError, Err: err})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		downloadErr := &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		c.emit(Event{Type: EventChannelError, Err: downloadErr})
		return downloadErr
	}

	tmp, err := os.CreateTemp(c.downloadDir, string(videoID)+"-*.part")
	if err != nil {
		return err
	}

	progressed := newProgressWriter(tmp, resp.ContentLength, func(sent, total int64) {
		c.emit(Event{Type: EventDownloadProgress, Progress: &ProgressEvent{VideoID: videoID, Sent: sent, Total: total}})
		if onProgress != nil {
			onProgress(sent, total)
		}
	})

	_, copyErr := io.Copy(progressed, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmp.Name())
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return closeErr
	}

	finalPath := filepath.Join(c.downloadDir, string(videoID))
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return err
	}

	c.mu.Lock()
	c.localPaths[videoID] = finalPath
	c.mu.Unlock()

	c.emit(Event{Type: EventVideoReady, VideoReady: &VideoReadyEvent{VideoID: videoID, LocalPath: finalPath}})
	return nil
}

// provideRandomClip answers an inbound provide_random_clip directive: it
// picks a uniformly random file from the clip library and uploads it,
// never playing it locally before the ready-sync barrier commits (spec
// §4.G Shared-pool handler).
func (c *Client) provideRandomClip() {
	entries, err := os.ReadDir(c.clipDir)
	if err != nil || len(entries) == 0 {
		c.emit(Event{Type: EventChannelError, Err: fmt.Errorf("sessionclient: no local clips available to share")})
		return
	}
	pick := entries[rand.Intn(len(entries))]
	_ = c.UploadAndShare(context.Background(), filepath.Join(c.clipDir, pick.Name()), nil)
}
