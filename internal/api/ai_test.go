package api

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illegalcall/ai-credits/internal/credits"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/resume"
)

func smallPNG(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// hugePNG returns a tiny PNG whose header declares w×h pixels.
func hugePNG(t *testing.T, w, h uint32) []byte {
	data := smallPNG(t)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func docxWithText(t *testing.T, text string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestTextToImage(t *testing.T) {
	t.Run("charges two credits and returns a data url", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 10, models.RoleUser)
		env.expectDebit(userID, credits.TextToImage, 8)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "data:image/png;base64,aW1hZ2U=", body["imageUrl"])
		assert.Equal(t, 1, env.images.calls)
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("insufficient credits is 402 and skips the provider", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 1, models.RoleUser)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusPaymentRequired, status)
		assert.Equal(t, "Insufficient credits. Please upgrade your plan.", body["error"])
		assert.Zero(t, env.images.calls)
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("lost race at the debit is 402", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 2, models.RoleUser)
		env.sql.ExpectQuery(debitSQL).WithArgs(2, userID).WillReturnRows(sqlmock.NewRows([]string{"credits"}))

		status, _ := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusPaymentRequired, status)
		assert.Zero(t, env.images.calls)
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("admin is not debited", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(adminID, 0, models.RoleAdmin)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", adminToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusOK, status)
		assert.NotEmpty(t, body["imageUrl"])
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("empty prompt", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "   "}))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Prompt is required.", body["error"])
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("upstream failure is 500 with the error text", func(t *testing.T) {
		env := setupTestServer(t)
		env.images.err = errors.New("Non-200 response from Stability AI: overloaded")
		env.expectProfile(userID, 10, models.RoleUser)
		env.expectDebit(userID, credits.TextToImage, 8)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "Non-200 response from Stability AI: overloaded", body["error"])
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("missing profile is 404", func(t *testing.T) {
		env := setupTestServer(t)
		env.sql.ExpectQuery(selectProfileSQL).WithArgs(userID).WillReturnError(sql.ErrNoRows)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/text-to-image", userToken, map[string]string{"prompt": "a red fox"}))
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "Could not find user profile.", body["error"])
	})
}

func TestRemoveBackground(t *testing.T) {
	t.Run("charges one credit and cleans up the upload", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 5, models.RoleUser)
		env.expectDebit(userID, credits.BackgroundRemoval, 4)
		img := smallPNG(t)

		status, body := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "image", "cat.png", "image/png", img))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "data:image/png;base64,Y3V0b3V0", body["imageUrl"])
		assert.Equal(t, img, env.images.lastImg)
		assert.Empty(t, env.tempFiles(t))
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("missing file", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "other", "cat.png", "image/png", smallPNG(t)))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "No image file uploaded.", body["error"])
	})

	t.Run("undecodable image is rejected before charging", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "image", "cat.png", "image/png", []byte("garbage")))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid image file.", body["error"])
		assert.Empty(t, env.tempFiles(t))
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("oversized dimensions are rejected before decoding or charging", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "image", "huge.png", "image/png", hugePNG(t, 60000, 60000)))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Image dimensions are too large.", body["error"])
		assert.Zero(t, env.images.calls)
		assert.Empty(t, env.tempFiles(t))
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("insufficient credits still removes the upload", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 0, models.RoleUser)

		status, _ := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "image", "cat.png", "image/png", smallPNG(t)))
		assert.Equal(t, http.StatusPaymentRequired, status)
		assert.Zero(t, env.images.calls)
		assert.Empty(t, env.tempFiles(t))
	})

	t.Run("upstream failure removes the upload", func(t *testing.T) {
		env := setupTestServer(t)
		env.images.err = errors.New("Non-200 response from Stability AI: bad image")
		env.expectProfile(userID, 5, models.RoleUser)
		env.expectDebit(userID, credits.BackgroundRemoval, 4)

		status, _ := env.do(t, multipartRequest(t, "/api/ai/remove-background", userToken, "image", "cat.png", "image/png", smallPNG(t)))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Empty(t, env.tempFiles(t))
	})
}

func TestAnalyzeResume(t *testing.T) {
	t.Run("docx is extracted and analyzed", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 3, models.RoleUser)
		env.expectDebit(userID, credits.ResumeAnalysis, 2)

		status, body := env.do(t, multipartRequest(t, "/api/ai/analyze-resume", userToken, "resume", "cv.docx", resume.MimeDOCX, docxWithText(t, "Jane Doe, Go engineer")))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Looks good.", body["analysis"])
		assert.Equal(t, "Jane Doe, Go engineer", env.analyzer.text)
		assert.Empty(t, env.tempFiles(t))
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("unsupported type is rejected before charging", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, multipartRequest(t, "/api/ai/analyze-resume", userToken, "resume", "cv.txt", "text/plain", []byte("Jane Doe")))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Unsupported file type.", body["error"])
		assert.Empty(t, env.tempFiles(t))
		assert.NoError(t, env.sql.ExpectationsWereMet())
	})

	t.Run("missing file", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, jsonRequest("POST", "/api/ai/analyze-resume", userToken, map[string]string{}))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "No resume file uploaded.", body["error"])
	})

	t.Run("analyzer failure is attributed to its provider", func(t *testing.T) {
		env := setupTestServer(t)
		env.analyzer.provider = "gemini"
		env.analyzer.err = errors.New("gemini request failed with status 503: overloaded")
		env.expectProfile(userID, 3, models.RoleUser)
		env.expectDebit(userID, credits.ResumeAnalysis, 2)

		status, body := env.do(t, multipartRequest(t, "/api/ai/analyze-resume", userToken, "resume", "cv.docx", resume.MimeDOCX, docxWithText(t, "Jane Doe")))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "gemini request failed with status 503: overloaded", body["error"])

		resp, err := env.server.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		scrape, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(scrape), `ai_credits_upstream_failures_total{provider="gemini"} 1`)
		assert.NotContains(t, string(scrape), `ai_credits_upstream_failures_total{provider="openai"}`)
	})

	t.Run("corrupt pdf is 500 and removes the upload", func(t *testing.T) {
		env := setupTestServer(t)
		env.expectProfile(userID, 3, models.RoleUser)
		env.expectDebit(userID, credits.ResumeAnalysis, 2)

		status, body := env.do(t, multipartRequest(t, "/api/ai/analyze-resume", userToken, "resume", "cv.pdf", resume.MimePDF, []byte("not really a pdf")))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.True(t, strings.HasPrefix(body["error"].(string), "failed to open pdf"))
		assert.Empty(t, env.tempFiles(t))
	})
}
