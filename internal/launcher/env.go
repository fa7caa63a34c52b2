package launcher

import (
	"fmt"
	"strings"

	"gantry/internal/model"
)

// ResolveEnv builds the environment for a resource: declared env-var
// annotations with placeholders substituted, its own endpoint addresses,
// and the endpoints of every resource it references, so that dependency
// connection strings reach the workload without hand-wiring.
//
// Placeholders inside declared values:
//
//	{endpoint:NAME}     URL of the resource's own endpoint NAME
//	{ref:RES:NAME}      URL of endpoint NAME on referenced resource RES
//
// Injected variables:
//
//	GANTRY_ENDPOINT_<EP>_URL / _PORT            own endpoints
//	GANTRY_RESOURCE_<RES>_ENDPOINT_<EP>         referenced endpoints
func ResolveEnv(app *model.Application, r *model.Resource) ([]string, error) {
	var env []string

	for _, ep := range app.Allocations(r.Name) {
		key := envToken(ep.Name())
		env = append(env,
			fmt.Sprintf("GANTRY_ENDPOINT_%s_URL=%s", key, ep.URL()),
			fmt.Sprintf("GANTRY_ENDPOINT_%s_PORT=%d", key, ep.Port()),
		)
	}

	for _, ref := range r.References() {
		for _, ep := range app.Allocations(ref.Target) {
			env = append(env, fmt.Sprintf("GANTRY_RESOURCE_%s_ENDPOINT_%s=%s",
				envToken(ref.Target), envToken(ep.Name()), ep.URL()))
		}
	}

	for _, ev := range r.EnvVars() {
		value, err := substitute(app, r, ev.Value)
		if err != nil {
			return nil, fmt.Errorf("resolving env %s for %s: %w", ev.Name, r.Name, err)
		}
		env = append(env, ev.Name+"="+value)
	}

	return env, nil
}

func substitute(app *model.Application, r *model.Resource, value string) (string, error) {
	var out strings.Builder
	for {
		start := strings.Index(value, "{")
		if start < 0 {
			out.WriteString(value)
			return out.String(), nil
		}
		end := strings.Index(value[start:], "}")
		if end < 0 {
			out.WriteString(value)
			return out.String(), nil
		}
		end += start

		out.WriteString(value[:start])
		token := value[start+1 : end]
		value = value[end+1:]

		switch {
		case strings.HasPrefix(token, "endpoint:"):
			name := strings.TrimPrefix(token, "endpoint:")
			ep := app.Allocation(r.Name, name)
			if ep == nil {
				return "", fmt.Errorf("unknown endpoint %q", name)
			}
			out.WriteString(ep.URL())
		case strings.HasPrefix(token, "ref:"):
			parts := strings.SplitN(strings.TrimPrefix(token, "ref:"), ":", 2)
			if len(parts) != 2 {
				return "", fmt.Errorf("malformed reference placeholder %q", token)
			}
			ep := app.Allocation(parts[0], parts[1])
			if ep == nil {
				return "", fmt.Errorf("unknown endpoint %q on resource %q", parts[1], parts[0])
			}
			out.WriteString(ep.URL())
		default:
			// Not a placeholder we own; emit verbatim.
			out.WriteString("{" + token + "}")
		}
	}
}

// envToken sanitizes a name for use inside an environment variable name.
func envToken(name string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
