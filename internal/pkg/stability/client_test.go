package stability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextToImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generation/"+DefaultEngine+"/text-to-image", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		var body textToImageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.TextPrompts, 1)
		assert.Equal(t, "a red fox", body.TextPrompts[0].Text)
		assert.Equal(t, 1, body.Samples)

		w.Write([]byte(`{"artifacts":[{"base64":"iVBORw0KGgo=","finishReason":"SUCCESS","seed":1}]}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	image, err := client.TextToImage(context.Background(), "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "iVBORw0KGgo=", image)
}

func TestTextToImageNoArtifacts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"artifacts":[]}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).TextToImage(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestRemoveBackground(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, removeBackgroundPath, r.URL.Path)
		assert.Equal(t, "image/*", r.Header.Get("Accept"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "image.png", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, []byte("input-bytes"), data)

		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("cutout-bytes"))
	}))
	defer server.Close()

	out, err := New(Config{APIKey: "sk-test", BaseURL: server.URL}).RemoveBackground(context.Background(), []byte("input-bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cutout-bytes"), out)
}

func TestUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message":"insufficient balance"}`))
	}))
	defer server.Close()

	_, err := New(Config{BaseURL: server.URL}).RemoveBackground(context.Background(), []byte("x"))
	require.Error(t, err)

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusPaymentRequired, upstream.StatusCode)
	assert.Equal(t, `Non-200 response from Stability AI: {"message":"insufficient balance"}`, err.Error())
}
