package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func procResource(name string, annotations ...Annotation) *Resource {
	return &Resource{
		Name:        name,
		Kind:        KindExecutable,
		Command:     "/bin/true",
		Annotations: annotations,
	}
}

func TestBuildValidGraph(t *testing.T) {
	app, err := NewBuilder().
		AddResource(&Resource{
			Name:  "db",
			Kind:  KindContainer,
			Image: "postgres:16",
			Annotations: []Annotation{
				&EndpointAnnotation{Name: "tcp", Scheme: "tcp", TargetPort: 5432},
				&HealthCheckAnnotation{Kind: HealthCheckTCP, Endpoint: "tcp"},
			},
		}).
		AddResource(procResource("api",
			&EndpointAnnotation{Name: "http", Scheme: "http"},
			&ReferenceAnnotation{Target: "db", WaitFor: TargetHealthy},
			&HealthCheckAnnotation{Kind: HealthCheckHTTP, Endpoint: "http", Path: "/health"},
		)).
		Build()

	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Len(t, app.Resources(), 2)
	assert.Equal(t, []string{"api", "db"}, app.Names())

	api := app.Resource("api")
	require.NotNil(t, api)
	require.Len(t, api.References(), 1)
	assert.Equal(t, "db", api.References()[0].Target)
	assert.Equal(t, TargetHealthy, api.References()[0].WaitFor)
}

func TestBuildValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		resources []*Resource
		resource  string
		reason    string
	}{
		{
			name: "duplicate resource name",
			resources: []*Resource{
				procResource("api"),
				procResource("api"),
			},
			resource: "api",
			reason:   "duplicate resource name",
		},
		{
			name: "unknown reference target",
			resources: []*Resource{
				procResource("api", &ReferenceAnnotation{Target: "db", WaitFor: TargetHealthy}),
			},
			resource: "api",
		},
		{
			name: "self reference",
			resources: []*Resource{
				procResource("api", &ReferenceAnnotation{Target: "api", WaitFor: TargetRunning}),
			},
			resource: "api",
		},
		{
			name: "duplicate endpoint name",
			resources: []*Resource{
				procResource("api",
					&EndpointAnnotation{Name: "http"},
					&EndpointAnnotation{Name: "http"},
				),
			},
			resource: "api",
		},
		{
			name: "process without command",
			resources: []*Resource{
				{Name: "api", Kind: KindExecutable},
			},
			resource: "api",
		},
		{
			name: "container without image",
			resources: []*Resource{
				{Name: "db", Kind: KindContainer},
			},
			resource: "db",
		},
		{
			name: "health check on unknown endpoint",
			resources: []*Resource{
				procResource("api",
					&HealthCheckAnnotation{Kind: HealthCheckHTTP, Endpoint: "nope"},
				),
			},
			resource: "api",
		},
		{
			name: "custom health check without probe",
			resources: []*Resource{
				procResource("api", &HealthCheckAnnotation{Kind: HealthCheckCustom}),
			},
			resource: "api",
		},
		{
			name: "invalid wait target",
			resources: []*Resource{
				procResource("api", &ReferenceAnnotation{Target: "db", WaitFor: "Sideways"}),
				procResource("db"),
			},
			resource: "api",
		},
		{
			name: "fixed port out of range",
			resources: []*Resource{
				procResource("api", &EndpointAnnotation{Name: "http", Port: 70000}),
			},
			resource: "api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			for _, r := range tt.resources {
				b.AddResource(r)
			}
			app, err := b.Build()
			require.Error(t, err)
			assert.Nil(t, app)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.resource, verr.Resource)
			if tt.reason != "" {
				assert.Contains(t, verr.Reason, tt.reason)
			}
		})
	}
}

func TestAllocatedEndpointValidation(t *testing.T) {
	ann := &EndpointAnnotation{Name: "http", Scheme: "http"}

	ep := NewAllocatedEndpoint(ann, "localhost", 8080)
	assert.Equal(t, "http://localhost:8080", ep.URL())
	assert.Equal(t, "localhost:8080", ep.HostPort())
	assert.Equal(t, 8080, ep.Port())

	assert.Panics(t, func() { NewAllocatedEndpoint(ann, "localhost", 0) })
	assert.Panics(t, func() { NewAllocatedEndpoint(ann, "localhost", 65536) })
	assert.Panics(t, func() { NewAllocatedEndpoint(nil, "localhost", 80) })
}

func TestAllocations(t *testing.T) {
	app, err := NewBuilder().
		AddResource(procResource("api", &EndpointAnnotation{Name: "http", Scheme: "http"})).
		Build()
	require.NoError(t, err)

	ann := app.Resource("api").Endpoint("http")
	require.NotNil(t, ann)

	require.NoError(t, app.SetAllocations("api", []*AllocatedEndpoint{
		NewAllocatedEndpoint(ann, "localhost", 9001),
	}))
	assert.Error(t, app.SetAllocations("ghost", nil))

	got := app.Allocation("api", "http")
	require.NotNil(t, got)
	assert.Equal(t, 9001, got.Port())
	assert.Nil(t, app.Allocation("api", "grpc"))
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateFailedToStart.IsTerminal())
	assert.True(t, StateExited.IsTerminal())
	assert.True(t, StateStopped.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())

	assert.True(t, StateRunning.IsRunning())
	assert.True(t, StateHealthy.IsRunning())
	assert.True(t, StateUnhealthy.IsRunning())
	assert.False(t, StateStarting.IsRunning())
	assert.False(t, StateStopped.IsRunning())
}
