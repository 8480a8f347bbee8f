package flutter

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

type createProjectArgs struct {
	Name         string   `json:"name" jsonschema:"Project name in snake_case, used as the Dart package name."`
	Template     string   `json:"template,omitempty" jsonschema:"Project template to scaffold from."`
	Organization string   `json:"organization,omitempty" jsonschema:"Reverse-domain organization identifier."`
	Platforms    []string `json:"platforms,omitempty" jsonschema:"Target platforms to enable."`
	Plan         bool     `json:"plan,omitempty" jsonschema:"Preview generated files as a diff without writing."`
}

type addScreenArgs struct {
	Name          string `json:"name" jsonschema:"Screen name in snake_case."`
	Feature       string `json:"feature" jsonschema:"Feature module the screen belongs to."`
	Type          string `json:"type,omitempty" jsonschema:"Kind of screen to generate."`
	WithViewmodel *bool  `json:"with_viewmodel,omitempty" jsonschema:"Generate a companion viewmodel."`
	WithTests     *bool  `json:"with_tests,omitempty" jsonschema:"Generate widget tests."`
	Plan          bool   `json:"plan,omitempty" jsonschema:"Preview generated files as a diff without writing."`
}

type addServiceArgs struct {
	Name      string `json:"name" jsonschema:"Service name in snake_case."`
	Feature   string `json:"feature" jsonschema:"Feature module the service belongs to."`
	Type      string `json:"type,omitempty" jsonschema:"Kind of service to generate."`
	BaseURL   string `json:"base_url,omitempty" jsonschema:"Base URL, only meaningful for api services."`
	WithTests *bool  `json:"with_tests,omitempty" jsonschema:"Generate unit tests."`
	WithMocks *bool  `json:"with_mocks,omitempty" jsonschema:"Generate a mock implementation."`
	Plan      bool   `json:"plan,omitempty" jsonschema:"Preview generated files as a diff without writing."`
}

type exportContextArgs struct {
	Project             string `json:"project" jsonschema:"Project directory name under the workspace root."`
	IncludeDependencies *bool  `json:"include_dependencies,omitempty" jsonschema:"Include the pubspec dependency table."`
	IncludeStructure    *bool  `json:"include_structure,omitempty" jsonschema:"Include the project file tree."`
	IncludeConventions  *bool  `json:"include_conventions,omitempty" jsonschema:"Include the coding conventions section."`
}

func mustSchemaFor[T any](mutate func(*jsonschema.Schema)) *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("schema inference failed: %v", err))
	}
	if mutate != nil {
		mutate(schema)
	}
	return schema
}

func createProjectSchema() *jsonschema.Schema {
	return mustSchemaFor[createProjectArgs](func(s *jsonschema.Schema) {
		s.Properties["template"].Enum = []any{"minimal", "riverpod"}
		s.Properties["template"].Default = json.RawMessage(`"riverpod"`)
		s.Properties["organization"].Default = json.RawMessage(`"com.example"`)
		s.Properties["platforms"].Items.Enum = anySlice(knownPlatforms)
		s.Properties["platforms"].Default = json.RawMessage(`["ios","android"]`)
	})
}

func addScreenSchema() *jsonschema.Schema {
	return mustSchemaFor[addScreenArgs](func(s *jsonschema.Schema) {
		s.Properties["type"].Enum = anySlice(knownScreenTypes)
		s.Properties["type"].Default = json.RawMessage(`"generic"`)
		s.Properties["with_viewmodel"].Default = json.RawMessage(`true`)
		s.Properties["with_tests"].Default = json.RawMessage(`true`)
	})
}

func addServiceSchema() *jsonschema.Schema {
	return mustSchemaFor[addServiceArgs](func(s *jsonschema.Schema) {
		s.Properties["type"].Enum = anySlice(knownServiceTypes)
		s.Properties["type"].Default = json.RawMessage(`"api"`)
		s.Properties["with_tests"].Default = json.RawMessage(`true`)
		s.Properties["with_mocks"].Default = json.RawMessage(`true`)
	})
}

func exportContextSchema() *jsonschema.Schema {
	return mustSchemaFor[exportContextArgs](func(s *jsonschema.Schema) {
		s.Properties["include_dependencies"].Default = json.RawMessage(`true`)
		s.Properties["include_structure"].Default = json.RawMessage(`true`)
		s.Properties["include_conventions"].Default = json.RawMessage(`true`)
	})
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
