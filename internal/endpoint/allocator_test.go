package endpoint

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gantry/internal/model"
)

func appWith(t *testing.T, resources ...*model.Resource) *model.Application {
	t.Helper()
	b := model.NewBuilder()
	for _, r := range resources {
		b.AddResource(r)
	}
	app, err := b.Build()
	require.NoError(t, err)
	return app
}

func withEndpoint(name string, eps ...*model.EndpointAnnotation) *model.Resource {
	r := &model.Resource{Name: name, Kind: model.KindExecutable, Command: "/bin/true"}
	for _, ep := range eps {
		r.Annotations = append(r.Annotations, ep)
	}
	return r
}

func TestFixedPortsHonored(t *testing.T) {
	app := appWith(t,
		withEndpoint("api", &model.EndpointAnnotation{Name: "http", Scheme: "http", Port: 18123}),
		withEndpoint("admin", &model.EndpointAnnotation{Name: "http", Scheme: "http", Port: 18124}),
	)

	require.NoError(t, New(Options{}).Allocate(app))

	assert.Equal(t, 18123, app.Allocation("api", "http").Port())
	assert.Equal(t, 18124, app.Allocation("admin", "http").Port())
}

func TestFixedPortCollisionFailsBuild(t *testing.T) {
	app := appWith(t,
		withEndpoint("api", &model.EndpointAnnotation{Name: "http", Port: 18200}),
		withEndpoint("admin", &model.EndpointAnnotation{Name: "http", Port: 18200}),
	)

	err := New(Options{}).Allocate(app)
	require.Error(t, err)

	var cerr *PortCollisionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 18200, cerr.Port)
	assert.Contains(t, cerr.Error(), "api/http")
	assert.Contains(t, cerr.Error(), "admin/http")

	// Nothing must be partially allocated after a failed build.
	assert.Nil(t, app.Allocations("api"))
	assert.Nil(t, app.Allocations("admin"))
}

func TestDynamicAllocationDisjoint(t *testing.T) {
	app := appWith(t,
		withEndpoint("a",
			&model.EndpointAnnotation{Name: "http", Scheme: "http"},
			&model.EndpointAnnotation{Name: "grpc", Scheme: "tcp"},
		),
		withEndpoint("b", &model.EndpointAnnotation{Name: "http", Scheme: "http"}),
	)

	require.NoError(t, New(Options{Randomize: true}).Allocate(app))

	ports := map[int]bool{}
	for _, res := range []string{"a", "b"} {
		for _, ep := range app.Allocations(res) {
			assert.False(t, ports[ep.Port()], "port %d allocated twice", ep.Port())
			ports[ep.Port()] = true
		}
	}
	assert.Len(t, ports, 3)
}

func TestConcurrentRandomizedRunsDisjoint(t *testing.T) {
	// Simulates N test runs allocating at roughly the same time; the
	// probing strategy must yield disjoint port sets because each probe
	// actually binds.
	const runs = 8

	var mu sync.Mutex
	seen := map[int]int{}

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			app := appWith(t,
				withEndpoint("svc",
					&model.EndpointAnnotation{Name: "http", Scheme: "http"},
					&model.EndpointAnnotation{Name: "metrics", Scheme: "http"},
				),
			)
			err := New(Options{Randomize: true}).Allocate(app)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			for _, ep := range app.Allocations("svc") {
				seen[ep.Port()]++
			}
		}(i)
	}
	wg.Wait()

	for port, count := range seen {
		assert.Equal(t, 1, count, "port %d was handed to %d allocations", port, count)
	}
	assert.Len(t, seen, runs*2)
}

func TestSequentialScanSkipsTakenPorts(t *testing.T) {
	app := appWith(t,
		withEndpoint("fixed", &model.EndpointAnnotation{Name: "http", Port: 21000}),
		withEndpoint("dyn", &model.EndpointAnnotation{Name: "http"}),
	)

	require.NoError(t, New(Options{BasePort: 21000}).Allocate(app))

	assert.Equal(t, 21000, app.Allocation("fixed", "http").Port())
	assert.NotEqual(t, 21000, app.Allocation("dyn", "http").Port())
}

func TestAllocationExhaustionNamesEndpoint(t *testing.T) {
	app := appWith(t, withEndpoint("svc", &model.EndpointAnnotation{Name: "http"}))

	// A base port beyond the valid range exhausts the scan immediately.
	err := New(Options{BasePort: 65536, MaxAttempts: 3}).Allocate(app)
	require.Error(t, err)

	var aerr *AllocationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "svc", aerr.Resource)
	assert.Equal(t, "http", aerr.Endpoint)
}
