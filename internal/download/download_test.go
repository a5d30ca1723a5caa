package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyFileChecksum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payload.bin")
	payload := []byte("whisperd")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	sum := sha256.Sum256(payload)
	require.NoError(t, VerifyFileChecksum(path, hex.EncodeToString(sum[:])))
	require.NoError(t, VerifyFileChecksum(path, ""))
	require.Error(t, VerifyFileChecksum(path, "deadbeef"))
}

func TestDownloadFileWithPinnedChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("ggml-model-bytes")
	sum := sha256.Sum256(payload)

	destination := filepath.Join(t.TempDir(), "ggml-tiny.bin")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:            server.URL + "/ggml-tiny.bin",
		Destination:    destination,
		ExpectedSHA256: hex.EncodeToString(sum[:]),
		NoProgress:     true,
		Retries:        1,
	})
	require.NoError(t, err)

	onDisk, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, payload, onDisk)

	_, err = os.Stat(destination + ".part")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFileChecksumMismatchRemovesPartial(t *testing.T) {
	t.Parallel()

	destination := filepath.Join(t.TempDir(), "ggml-tiny.bin")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("corrupted"))
	}))
	defer server.Close()

	err := DownloadFile(context.Background(), Options{
		URL:            server.URL + "/ggml-tiny.bin",
		Destination:    destination,
		ExpectedSHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		NoProgress:     true,
		Retries:        1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")

	_, err = os.Stat(destination)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(destination + ".part")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFileRetriesOnServerError(t *testing.T) {
	t.Parallel()

	payload := []byte("eventually-fine")
	sum := sha256.Sum256(payload)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destination := filepath.Join(t.TempDir(), "model.bin")
	err := DownloadFile(context.Background(), Options{
		URL:            server.URL + "/model.bin",
		Destination:    destination,
		ExpectedSHA256: hex.EncodeToString(sum[:]),
		NoProgress:     true,
		Retries:        2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestDownloadFileRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	require.Error(t, DownloadFile(context.Background(), Options{Destination: "/tmp/x"}))
	require.Error(t, DownloadFile(context.Background(), Options{URL: "http://example.com/x"}))
}
