package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gantry/internal/model"
)

// definitionFile is the on-disk shape of an application definition.
type definitionFile struct {
	Resources []resourceDef `yaml:"resources"`
}

type resourceDef struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Command    string `yaml:"command,omitempty"`
	WorkingDir string `yaml:"workingDir,omitempty"`
	Image      string `yaml:"image,omitempty"`

	Endpoints    []endpointDef    `yaml:"endpoints,omitempty"`
	Env          []envDef         `yaml:"env,omitempty"`
	Args         []string         `yaml:"args,omitempty"`
	HealthChecks []healthCheckDef `yaml:"healthChecks,omitempty"`
	References   []referenceDef   `yaml:"references,omitempty"`
}

type endpointDef struct {
	Name       string `yaml:"name"`
	Scheme     string `yaml:"scheme,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	TargetPort int    `yaml:"targetPort,omitempty"`
	IsProxied  bool   `yaml:"isProxied,omitempty"`
}

type envDef struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type healthCheckDef struct {
	Kind     string   `yaml:"kind"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

type referenceDef struct {
	Target  string `yaml:"target"`
	WaitFor string `yaml:"waitFor,omitempty"`
}

// LoadDefinition reads an application definition from a YAML file and
// builds the sealed application model. All structural validation happens
// in the model builder; this layer only maps syntax.
func LoadDefinition(path string) (*model.Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading application definition %s: %w", path, err)
	}
	return ParseDefinition(data)
}

// ParseDefinition builds the application model from YAML bytes.
func ParseDefinition(data []byte) (*model.Application, error) {
	var def definitionFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("parsing application definition: %w", err)
	}
	if len(def.Resources) == 0 {
		return nil, fmt.Errorf("application definition declares no resources")
	}

	builder := model.NewBuilder()
	for _, rd := range def.Resources {
		r, err := rd.toModel()
		if err != nil {
			return nil, err
		}
		builder.AddResource(r)
	}
	return builder.Build()
}

func (rd resourceDef) toModel() (*model.Resource, error) {
	kind, err := parseKind(rd.Kind)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", rd.Name, err)
	}

	r := &model.Resource{
		Name:       rd.Name,
		Kind:       kind,
		Command:    rd.Command,
		WorkingDir: rd.WorkingDir,
		Image:      rd.Image,
	}

	for _, ep := range rd.Endpoints {
		r.Annotations = append(r.Annotations, &model.EndpointAnnotation{
			Name:       ep.Name,
			Scheme:     ep.Scheme,
			Port:       ep.Port,
			TargetPort: ep.TargetPort,
			IsProxied:  ep.IsProxied,
		})
	}
	for _, ev := range rd.Env {
		r.Annotations = append(r.Annotations, &model.EnvVarAnnotation{Name: ev.Name, Value: ev.Value})
	}
	if len(rd.Args) > 0 {
		r.Annotations = append(r.Annotations, &model.ArgsAnnotation{Values: rd.Args})
	}
	for _, hc := range rd.HealthChecks {
		kind, err := parseHealthCheckKind(hc.Kind)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", rd.Name, err)
		}
		r.Annotations = append(r.Annotations, &model.HealthCheckAnnotation{
			Kind:     kind,
			Endpoint: hc.Endpoint,
			Path:     hc.Path,
			Interval: hc.Interval.Std(),
		})
	}
	for _, ref := range rd.References {
		waitFor := model.TargetRunning
		if ref.WaitFor != "" {
			waitFor, err = parseTargetState(ref.WaitFor)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %w", rd.Name, err)
			}
		}
		r.Annotations = append(r.Annotations, &model.ReferenceAnnotation{
			Target:  ref.Target,
			WaitFor: waitFor,
		})
	}
	return r, nil
}

func parseKind(s string) (model.ResourceKind, error) {
	switch s {
	case "Project", "project":
		return model.KindProject, nil
	case "Executable", "executable":
		return model.KindExecutable, nil
	case "Container", "container":
		return model.KindContainer, nil
	case "External", "external":
		return model.KindExternal, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

func parseHealthCheckKind(s string) (model.HealthCheckKind, error) {
	switch s {
	case "http":
		return model.HealthCheckHTTP, nil
	case "tcp":
		return model.HealthCheckTCP, nil
	default:
		// Custom checks are in-process functions and cannot come from a
		// definition file.
		return "", fmt.Errorf("unknown health check kind %q", s)
	}
}

func parseTargetState(s string) (model.TargetState, error) {
	switch s {
	case "Running", "running":
		return model.TargetRunning, nil
	case "Healthy", "healthy":
		return model.TargetHealthy, nil
	default:
		return "", fmt.Errorf("unknown wait target %q", s)
	}
}
