package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	messages map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.messages[id] = contents
}

func TestFormatHeadersSorted(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-B", "2")
	headers.Set("X-A", "1")
	require.Equal(t, "X-A: 1\nX-B: 2", formatHeaders(headers))
	require.Equal(t, "", formatHeaders(http.Header{}))
}

func TestFormatRequestBodyNotReplayable(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", formatRequestBody(req))

	req.GetBody = nil
	require.Equal(t, "<body not replayable>", formatRequestBody(req))
}

func TestInstrumentClientDoesNotBreakRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New()
	InstrumentClient(client, nil, output)

	res, err := client.R().SetBody("payload").Post(server.URL)
	require.NoError(t, err)
	require.Equal(t, "ok", res.String())
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	output.Write("1", "contents")
	written, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	require.Equal(t, "contents", string(written))
}
