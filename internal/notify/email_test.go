package notify

import (
	"context"
	"io"
	"log"
	"os"
	"strings"
	"testing"

	"ojsbot-backend/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEmailNotify(t *testing.T) {
	if os.Getenv("OJS_TEST_CONTAINERS") != "1" {
		t.Skip("set OJS_TEST_CONTAINERS=1 to run container tests")
	}

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	smtpServer, err := testcontainers.GenericContainer(
		ctx,
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025:1025", "1090:1080"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	require.NoError(t, err)
	defer smtpServer.Terminate(ctx)

	mailer := NewEmail(SmtpConfig{
		Server:       "localhost",
		Port:         1025,
		EmailAddress: "uploader@example.com",
		Password:     "default",
		Recipients:   []string{"editor@example.com"},
	}, telemetry.NewRecordingAPI())

	mailer.Notify(ctx, "run finished: 3/3 units uploaded")
	mailer.Wait()

	res, err := resty.New().R().Get("http://127.0.0.1:1090/messages/1.plain")
	require.NoError(t, err)
	require.True(t, strings.Contains(res.String(), "3/3 units uploaded"))
}
