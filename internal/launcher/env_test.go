package launcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gantry/internal/logstream"
	"gantry/internal/model"
)

func buildAllocatedApp(t *testing.T) *model.Application {
	t.Helper()
	app, err := model.NewBuilder().
		AddResource(&model.Resource{
			Name:  "db",
			Kind:  model.KindContainer,
			Image: "postgres:16",
			Annotations: []model.Annotation{
				&model.EndpointAnnotation{Name: "tcp", Scheme: "tcp"},
			},
		}).
		AddResource(&model.Resource{
			Name:    "api",
			Kind:    model.KindExecutable,
			Command: "/bin/true",
			Annotations: []model.Annotation{
				&model.EndpointAnnotation{Name: "http", Scheme: "http"},
				&model.ReferenceAnnotation{Target: "db", WaitFor: model.TargetHealthy},
				&model.EnvVarAnnotation{Name: "DATABASE_URL", Value: "{ref:db:tcp}"},
				&model.EnvVarAnnotation{Name: "SELF_URL", Value: "{endpoint:http}"},
				&model.EnvVarAnnotation{Name: "STATIC", Value: "plain"},
			},
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, app.SetAllocations("db", []*model.AllocatedEndpoint{
		model.NewAllocatedEndpoint(app.Resource("db").Endpoint("tcp"), "localhost", 15432),
	}))
	require.NoError(t, app.SetAllocations("api", []*model.AllocatedEndpoint{
		model.NewAllocatedEndpoint(app.Resource("api").Endpoint("http"), "localhost", 18080),
	}))
	return app
}

func TestResolveEnv(t *testing.T) {
	app := buildAllocatedApp(t)

	env, err := ResolveEnv(app, app.Resource("api"))
	require.NoError(t, err)

	assert.Contains(t, env, "GANTRY_ENDPOINT_HTTP_URL=http://localhost:18080")
	assert.Contains(t, env, "GANTRY_ENDPOINT_HTTP_PORT=18080")
	assert.Contains(t, env, "GANTRY_RESOURCE_DB_ENDPOINT_TCP=tcp://localhost:15432")
	assert.Contains(t, env, "DATABASE_URL=tcp://localhost:15432")
	assert.Contains(t, env, "SELF_URL=http://localhost:18080")
	assert.Contains(t, env, "STATIC=plain")
}

func TestResolveEnvUnknownPlaceholder(t *testing.T) {
	app, err := model.NewBuilder().
		AddResource(&model.Resource{
			Name:    "api",
			Kind:    model.KindExecutable,
			Command: "/bin/true",
			Annotations: []model.Annotation{
				&model.EnvVarAnnotation{Name: "BROKEN", Value: "{endpoint:nope}"},
			},
		}).
		Build()
	require.NoError(t, err)

	_, err = ResolveEnv(app, app.Resource("api"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestSubstituteLeavesForeignBracesAlone(t *testing.T) {
	app := buildAllocatedApp(t)
	got, err := substitute(app, app.Resource("api"), `{"json": true} and {endpoint:http}`)
	require.NoError(t, err)
	assert.Equal(t, `{"json": true} and http://localhost:18080`, got)
}

func TestEnvToken(t *testing.T) {
	assert.Equal(t, "MY_SVC", envToken("my-svc"))
	assert.Equal(t, "HTTP2", envToken("http2"))
}

func TestLineWriterSplitsLines(t *testing.T) {
	broker := logstream.NewBroker(0)
	defer broker.Close()

	w := newLineWriter(broker, "box", false)
	_, err := w.Write([]byte("first li"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ne\r\nsecond line\npartial"))
	require.NoError(t, err)
	w.Flush()

	lines := broker.Tail("box", 0)
	require.Len(t, lines, 3)
	assert.Equal(t, "first line", lines[0].Content)
	assert.Equal(t, "second line", lines[1].Content)
	assert.Equal(t, "partial", lines[2].Content)
}
