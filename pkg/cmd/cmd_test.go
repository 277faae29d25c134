package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/congrega/flows/pkg/config"
	httpgateway "github.com/congrega/flows/pkg/gateway/http"
	loggateway "github.com/congrega/flows/pkg/gateway/log"
	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence/file"
	queuememory "github.com/congrega/flows/pkg/queue/memory"
	"github.com/congrega/flows/pkg/testutil"
	"github.com/congrega/flows/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, url := range []string{dir, "file://" + dir} {
		p, err := NewPersistence(ctx, testutil.Logger(), url)
		require.NoError(t, err, url)
		assert.IsType(t, &file.Persistence{}, p)
	}

	_, err := NewPersistence(ctx, testutil.Logger(), "mongodb://localhost/flows")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewQueue(t *testing.T) {
	ctx := context.Background()

	for _, url := range []string{"", "memory://"} {
		q, err := NewQueue(ctx, testutil.Logger(), url)
		require.NoError(t, err)
		assert.IsType(t, &queuememory.Queue{}, q)
	}

	_, err := NewQueue(ctx, testutil.Logger(), "memory://elsewhere")
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = NewQueue(ctx, testutil.Logger(), "amqp://localhost")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewRecordStore(t *testing.T) {
	ctx := context.Background()

	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
		"organisations": [{"id": "t1", "name": "St. Brigid's"}],
		"records": [{"id": "rec-1", "tenant_id": "t1", "first_name": "Maria", "status": "ACTIVE"}]
	}`), 0o600))

	for _, url := range []string{seed, "file://" + seed} {
		store, closeStore, err := NewRecordStore(ctx, testutil.Logger(), url)
		require.NoError(t, err)

		record, err := store.Record(ctx, models.Scope{TenantID: "t1"}, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, "Maria", record.FirstName)
		assert.NoError(t, closeStore())
	}

	store, _, err := NewRecordStore(ctx, testutil.Logger(), "")
	require.NoError(t, err)

	count, err := store.CountRecords(ctx, models.Scope{TenantID: "t1"}, "ACTIVE")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, _, err = NewRecordStore(ctx, testutil.Logger(), "file:///does/not/exist.json")
	assert.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(testutil.Logger(), "gochannel", "", "flows-test")
	require.NoError(t, err)
	assert.NoError(t, bus.Close())

	_, err = NewEventBus(testutil.Logger(), "kafka", "", "flows-test")
	require.Error(t, err)

	_, err = NewEventBus(testutil.Logger(), "rabbitmq", "", "flows-test")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewGateway(t *testing.T) {
	assert.IsType(t, &loggateway.Gateway{}, NewGateway(testutil.Logger(), "", "", 0))
	assert.IsType(t, &httpgateway.Gateway{}, NewGateway(testutil.Logger(), "https://notify.example.org", "secret", 5))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, splitList(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Nil(t, splitList(""))
}

func TestNewEngine(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	settings.DatabaseURL = "file://" + t.TempDir()
	settings.QueueURL = "memory://"
	settings.EventBus.Provider = "gochannel"

	engine, err := NewEngine(ctx, testutil.Logger(), settings, "flows-test")
	require.NoError(t, err)
	defer engine.Close(ctx)

	assert.Empty(t, engine.Registry.Missing())

	template, err := engine.Templates.Create(ctx, models.Scope{TenantID: "t1"}, testutil.CreateTestTemplate())
	require.NoError(t, err)

	execution, err := engine.Orchestrator.Trigger(ctx, models.Scope{TenantID: "t1"}, workflow.TriggerRequest{TemplateID: template.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	assert.NotNil(t, engine.Pool())
	assert.NotNil(t, engine.Sweeper(engine.Triggers()))
}

func TestEngine_APIAndTriggers(t *testing.T) {
	ctx := context.Background()
	settings := config.Default()
	settings.DatabaseURL = "file://" + t.TempDir()
	settings.EventBus.Provider = "gochannel"

	engine, err := NewEngine(ctx, testutil.Logger(), settings, "flows-test")
	require.NoError(t, err)
	defer engine.Close(ctx)

	resp, err := engine.API().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, engine.RunTriggers(runCtx))
	assert.NoError(t, engine.RunWorkers(runCtx))
}

func TestNewEngine_ClosesOnFailure(t *testing.T) {
	settings := config.Default()
	settings.DatabaseURL = "file://" + t.TempDir()
	settings.EventBus.Provider = "rabbitmq"

	_, err := NewEngine(context.Background(), testutil.Logger(), settings, "flows-test")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: file:///var/lib/flows
worker:
  concurrency: 2
gateway:
  url: https://notify.example.org
`), 0o600))

	var settings config.File

	command := &cli.Command{
		Name:  "flows-test",
		Flags: append(append(CommonFlags(), WorkerFlags()...), TriggerFlags()...),
		Action: func(_ context.Context, command *cli.Command) error {
			var err error
			settings, err = Settings(command)

			return err
		},
	}

	require.NoError(t, command.Run(context.Background(), []string{
		"flows-test", "--config", path, "--concurrency", "6", "--handler-timeout", "30s", "--event-bus", "gochannel",
	}))

	assert.Equal(t, "file:///var/lib/flows", settings.DatabaseURL)
	assert.Equal(t, 6, settings.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, settings.Worker.HandlerTimeout)
	assert.Equal(t, "gochannel", settings.EventBus.Provider)
	assert.Equal(t, "https://notify.example.org", settings.Gateway.URL)
	assert.Equal(t, config.DefaultSweepSpec, settings.Trigger.SweepSpec)
}

func TestSettings_RequiresDatabaseURL(t *testing.T) {
	command := &cli.Command{
		Name:  "flows-test",
		Flags: CommonFlags(),
		Action: func(_ context.Context, command *cli.Command) error {
			_, err := Settings(command)

			return err
		},
	}

	assert.ErrorIs(t, command.Run(context.Background(), []string{"flows-test"}), ErrDatabaseURLRequired)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "FLOWS_TEST_QUEUE_URL"

	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=redis://localhost:6379/0\n"), 0o600))

	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, "redis://localhost:6379/0", os.Getenv(key))

	loaded, err = LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
