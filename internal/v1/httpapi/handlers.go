package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ukunda/rdm/internal/v1/apperr"
	"github.com/ukunda/rdm/internal/v1/types"
)

type createRoomRequest struct {
	Password string `json:"password"`
	Username string `json:"username"`
}

// handleCreateRoom is spec §6's POST /rooms.
func (s *server) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindMalformedInput, "invalid request body", err))
		return
	}

	r, hostID, err := s.deps.Registry.Create(req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := s.deps.Minter.Mint(hostID, r.Code(), req.Username)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindTransient, "failed to mint participant token", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_code": r.Code(),
		"user_id":   token,
		"host_id":   hostID,
	})
}

type joinRoomRequest struct {
	Password string `json:"password"`
	Username string `json:"username"`
}

// handleJoinRoom is spec §6's POST /rooms/{code}/join.
func (s *server) handleJoinRoom(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))

	if !s.deps.Registry.CheckRateLimit(c.Request.Context(), c.ClientIP()) {
		writeError(c, apperr.New(apperr.KindRateLimited, "too many join attempts, try again later"))
		return
	}
	s.deps.Registry.RecordAttempt(c.Request.Context(), c.ClientIP())

	r, ok := s.deps.Registry.Lookup(code)
	if !ok {
		writeError(c, apperr.New(apperr.KindNotFound, "room not found"))
		return
	}

	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindMalformedInput, "invalid request body", err))
		return
	}

	if !s.deps.Registry.Verify(code, req.Password) {
		writeError(c, apperr.New(apperr.KindAuthFailure, "incorrect room password"))
		return
	}

	participantID, snapshot, err := r.Join(req.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := s.deps.Minter.Mint(participantID, code, req.Username)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindTransient, "failed to mint participant token", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_code":      code,
		"user_id":        token,
		"host_id":        snapshot.HostID,
		"users":          snapshot.Users,
		"playback_state": snapshot.PlaybackState,
		"current_video":  snapshot.CurrentVideo,
		"videos":         snapshot.Videos,
	})
}

// handleUpload is spec §6's POST /rooms/{code}/upload (multipart:
// user_id, file). user_id is the signed token minted at create/join, the
// same one the signaling handshake verifies, so an uploader must prove
// membership the same way a connecting channel does.
func (s *server) handleUpload(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))
	r, ok := s.deps.Registry.Lookup(code)
	if !ok {
		writeError(c, apperr.New(apperr.KindNotFound, "room not found"))
		return
	}

	tokenString := c.PostForm("user_id")
	claims, err := s.deps.Minter.Verify(tokenString, code)
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindForbidden, "not a member of this room", err))
		return
	}
	uploaderID := types.ParticipantID(claims.ParticipantID)
	member := false
	for _, u := range r.Snapshot().Users {
		if u.UserID == uploaderID {
			member = true
			break
		}
	}
	if !member {
		writeError(c, apperr.New(apperr.KindForbidden, "not a member of this room"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindMalformedInput, "missing upload file", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, apperr.Wrap(apperr.KindTransient, "failed to open uploaded file", err))
		return
	}
	defer file.Close()

	videoID, size, err := s.deps.Blobs.Write(code, fileHeader.Filename, file)
	if err != nil {
		writeError(c, err)
		return
	}

	r.AddVideo(types.CatalogueEntry{
		ID:           videoID,
		OriginalName: fileHeader.Filename,
		Size:         size,
		UploaderID:   uploaderID,
	})

	c.JSON(http.StatusOK, gin.H{
		"video_id": videoID,
		"filename": fileHeader.Filename,
		"size":     size,
	})
}

// handleDownloadVideo is spec §6's GET /rooms/{code}/videos/{video_id},
// serving the byte-range requests the watch-together player needs to seek
// without downloading the whole file.
func (s *server) handleDownloadVideo(c *gin.Context) {
	code := types.RoomCode(c.Param("code"))
	videoID := types.VideoID(c.Param("video_id"))

	r, ok := s.deps.Registry.Lookup(code)
	if !ok {
		writeError(c, apperr.New(apperr.KindNotFound, "room not found"))
		return
	}

	start, end := parseRangeHeader(c.GetHeader("Range"))
	result, err := s.deps.Blobs.OpenRange(code, videoID, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	defer result.Reader.Close()

	filename := ""
	if video, ok := r.Snapshot().Videos[videoID]; ok {
		filename = video.Filename
	}
	contentType := types.ContentTypeForFilename(filename)
	c.Header("Accept-Ranges", "bytes")

	status := http.StatusOK
	if start != nil || end != nil {
		status = http.StatusPartialContent
		c.Header("Content-Range", contentRangeHeader(result.Start, result.End, result.Total))
	}

	c.DataFromReader(status, result.End-result.Start+1, contentType, result.Reader, nil)
}

// parseRangeHeader parses a single "bytes=a-b" range, returning nil, nil
// when the header is absent or lacks the "bytes=a-b" shape. Each bound is
// parsed on its own, and a bound that is empty or not a number comes back
// nil (spec §4.C `openRange`: an absent or unusable bound falls back to
// the full-file default).
func parseRangeHeader(header string) (*int64, *int64) {
	if !strings.HasPrefix(header, "bytes=") {
		return nil, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, nil
	}

	var start, end *int64
	if parts[0] != "" {
		if v, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
			start = &v
		}
	}
	if parts[1] != "" {
		if v, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			end = &v
		}
	}
	return start, end
}

func contentRangeHeader(start, end, total int64) string {
	return "bytes " + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10) + "/" + strconv.FormatInt(total, 10)
}

func writeError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(ae.Kind.HTTPStatus(), gin.H{"error": ae.Message})
}
