package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"taskweaver/internal/core"
)

// GraphFile is the on-disk description of a set of command tasks. JSON is
// accepted as well, being a subset of YAML.
type GraphFile struct {
	Tasks []TaskSpec `yaml:"tasks" validate:"required,min=1,dive"`
}

// TaskSpec describes one command task.
type TaskSpec struct {
	Name       string            `yaml:"name" validate:"required"`
	Run        string            `yaml:"run" validate:"required"`
	Args       []any             `yaml:"args"`
	Kwargs     map[string]any    `yaml:"kwargs"`
	Env        map[string]string `yaml:"env"`
	InheritEnv bool              `yaml:"inherit_env"`
	WorkDir    string            `yaml:"workdir"`
	Log        string            `yaml:"log"`
	Notify     bool              `yaml:"notify"`
	DependsOn  []DependencySpec  `yaml:"depends_on" validate:"dive"`
}

// DependencySpec is a dependency entry. A bare string is shorthand for
// {task: <name>}.
type DependencySpec struct {
	Task    string `yaml:"task" validate:"required"`
	Inject  string `yaml:"inject" validate:"omitempty,oneof=none positional keyword arg args kwarg kwargs"`
	Keyword string `yaml:"keyword" validate:"required_if=Inject keyword,required_if=Inject kwarg,required_if=Inject kwargs"`
}

var dependencyKeys = map[string]bool{"task": true, "inject": true, "keyword": true}

// UnmarshalYAML accepts either a scalar task name or a mapping. Unknown keys
// in the mapping are rejected.
func (d *DependencySpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		d.Task = node.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if !dependencyKeys[key.Value] {
				return fmt.Errorf("line %d: field %s not found in dependency", key.Line, key.Value)
			}
		}
		type plain DependencySpec
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*d = DependencySpec(p)
		return nil
	default:
		return fmt.Errorf("line %d: dependency must be a task name or a mapping", node.Line)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadGraphFile reads and validates the graph file at path. It checks the
// file's shape only; graph structure is checked when tasks are built into a
// graph.
func LoadGraphFile(path string) (*GraphFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return ParseGraph(b)
}

// ParseGraph decodes and validates a graph document.
func ParseGraph(b []byte) (*GraphFile, error) {
	var gf GraphFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&gf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse graph: no tasks")
		}
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("parse graph: trailing document")
		}
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	if err := validate.Struct(&gf); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", describeValidation(err))
	}
	return &gf, nil
}

// describeValidation flattens validator errors into one readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "GraphFile.")
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must not be empty")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// taskResources supplies the optional collaborators built tasks are wired to.
type taskResources interface {
	LogSink(path string) (core.LogSink, error)
	Notifier() core.Notifier
}

// BuildTasks turns the file into tasks. Relative working directories resolve
// against baseDir. res may be nil, in which case log and notify are ignored.
func (gf *GraphFile) BuildTasks(baseDir string, res taskResources) ([]*core.Task, error) {
	tasks := make([]*core.Task, 0, len(gf.Tasks))
	for _, spec := range gf.Tasks {
		t, err := spec.build(baseDir, res)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s TaskSpec) build(baseDir string, res taskResources) (*core.Task, error) {
	dir := s.WorkDir
	if dir == "" {
		dir = baseDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	cmd := &core.Command{
		Run:        s.Run,
		Env:        s.Env,
		WorkingDir: dir,
		InheritEnv: s.InheritEnv,
	}
	opts := []core.TaskOption{
		core.WithArgs(s.Args...),
		core.WithKwargs(s.Kwargs),
	}

	for _, d := range s.DependsOn {
		mode, err := core.ParseInjectionMode(d.Inject)
		if err != nil {
			return nil, fmt.Errorf("task %q: dependency %q: %w", s.Name, d.Task, err)
		}
		opts = append(opts, core.WithDependencies(core.Dependency{Task: d.Task, Mode: mode, Keyword: d.Keyword}))
	}

	if res != nil && s.Log != "" {
		sink, err := res.LogSink(s.Log)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", s.Name, err)
		}
		opts = append(opts, core.WithLogSink(sink))
	}
	if res != nil && s.Notify {
		if n := res.Notifier(); n != nil {
			opts = append(opts, core.WithNotifier(n))
		}
	}

	return core.NewTask(s.Name, cmd, opts...), nil
}
