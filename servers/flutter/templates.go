package flutter

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// templateData carries every variable the scaffold templates can reference.
type templateData struct {
	Name         string
	Class        string
	Feature      string
	FeatureClass string
	Organization string
	Platforms    []string
	Template     string
	BaseURL      string
	ScreenType   string
	ServiceType  string
}

// projectTemplate describes a named project layout: the files it generates,
// keyed by relative path template, each rendering through text/template.
type projectTemplate struct {
	Name        string
	Description string
	Files       map[string]string
}

// templateManifest is the wire form of a template served through the
// fly://templates/{name} resource.
type templateManifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
	Variables   []string `json:"variables"`
}

func (t projectTemplate) manifest() templateManifest {
	files := make([]string, 0, len(t.Files))
	for path := range t.Files {
		files = append(files, path)
	}
	sort.Strings(files)
	return templateManifest{
		Name:        t.Name,
		Description: t.Description,
		Files:       files,
		Variables:   []string{"name", "organization", "platforms"},
	}
}

// render evaluates every file of the template against data and returns a
// write plan keyed by the expanded relative paths.
func (t projectTemplate) render(data templateData) (writePlan, error) {
	plan := writePlan{files: make(map[string]string, len(t.Files))}
	for pathTmpl, contentTmpl := range t.Files {
		path, err := renderTemplate("path", pathTmpl, data)
		if err != nil {
			return writePlan{}, err
		}
		content, err := renderTemplate(path, contentTmpl, data)
		if err != nil {
			return writePlan{}, err
		}
		plan.files[path] = content
	}
	return plan, nil
}

func renderTemplate(name, text string, data templateData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return sb.String(), nil
}

var projectTemplates = map[string]projectTemplate{
	"minimal": {
		Name:        "minimal",
		Description: "Bare Flutter application: material app shell, a home screen, and a smoke test.",
		Files: map[string]string{
			"{{.Name}}/pubspec.yaml": `name: {{.Name}}
description: A Flutter application.
publish_to: "none"
version: 0.1.0

environment:
  sdk: ">=3.0.0 <4.0.0"

dependencies:
  flutter:
    sdk: flutter

dev_dependencies:
  flutter_test:
    sdk: flutter
  flutter_lints: ^4.0.0

flutter:
  uses-material-design: true
`,
			"{{.Name}}/analysis_options.yaml": `include: package:flutter_lints/flutter.yaml

linter:
  rules:
    - prefer_const_constructors
`,
			"{{.Name}}/lib/main.dart": `import 'package:flutter/material.dart';

import 'app.dart';

void main() {
  runApp(const {{.Class}}App());
}
`,
			"{{.Name}}/lib/app.dart": `import 'package:flutter/material.dart';

class {{.Class}}App extends StatelessWidget {
  const {{.Class}}App({super.key});

  @override
  Widget build(BuildContext context) {
    return MaterialApp(
      title: '{{.Name}}',
      theme: ThemeData(useMaterial3: true),
      home: const HomeScreen(),
    );
  }
}

class HomeScreen extends StatelessWidget {
  const HomeScreen({super.key});

  @override
  Widget build(BuildContext context) {
    return Scaffold(
      appBar: AppBar(title: const Text('{{.Name}}')),
      body: const Center(child: Text('Hello from {{.Name}}')),
    );
  }
}
`,
			"{{.Name}}/test/app_test.dart": `import 'package:flutter_test/flutter_test.dart';

import 'package:{{.Name}}/app.dart';

void main() {
  testWidgets('renders the home screen', (tester) async {
    await tester.pumpWidget(const {{.Class}}App());
    expect(find.text('{{.Name}}'), findsOneWidget);
  });
}
`,
		},
	},
	"riverpod": {
		Name:        "riverpod",
		Description: "Flutter application wired for Riverpod state management with a provider scope and a counter example.",
		Files: map[string]string{
			"{{.Name}}/pubspec.yaml": `name: {{.Name}}
description: A Flutter application using Riverpod.
publish_to: "none"
version: 0.1.0

environment:
  sdk: ">=3.0.0 <4.0.0"

dependencies:
  flutter:
    sdk: flutter
  flutter_riverpod: ^2.5.0

dev_dependencies:
  flutter_test:
    sdk: flutter
  flutter_lints: ^4.0.0

flutter:
  uses-material-design: true
`,
			"{{.Name}}/analysis_options.yaml": `include: package:flutter_lints/flutter.yaml

linter:
  rules:
    - prefer_const_constructors
`,
			"{{.Name}}/lib/main.dart": `import 'package:flutter/material.dart';
import 'package:flutter_riverpod/flutter_riverpod.dart';

import 'app.dart';

void main() {
  runApp(const ProviderScope(child: {{.Class}}App()));
}
`,
			"{{.Name}}/lib/app.dart": `import 'package:flutter/material.dart';

import 'features/home/screens/home_screen.dart';

class {{.Class}}App extends StatelessWidget {
  const {{.Class}}App({super.key});

  @override
  Widget build(BuildContext context) {
    return MaterialApp(
      title: '{{.Name}}',
      theme: ThemeData(useMaterial3: true),
      home: const HomeScreen(),
    );
  }
}
`,
			"{{.Name}}/lib/features/home/providers.dart": `import 'package:flutter_riverpod/flutter_riverpod.dart';

final counterProvider = StateProvider<int>((ref) => 0);
`,
			"{{.Name}}/lib/features/home/screens/home_screen.dart": `import 'package:flutter/material.dart';
import 'package:flutter_riverpod/flutter_riverpod.dart';

import '../providers.dart';

class HomeScreen extends ConsumerWidget {
  const HomeScreen({super.key});

  @override
  Widget build(BuildContext context, WidgetRef ref) {
    final count = ref.watch(counterProvider);
    return Scaffold(
      appBar: AppBar(title: const Text('{{.Name}}')),
      body: Center(child: Text('Count: $count')),
      floatingActionButton: FloatingActionButton(
        onPressed: () => ref.read(counterProvider.notifier).state++,
        child: const Icon(Icons.add),
      ),
    );
  }
}
`,
			"{{.Name}}/test/home_screen_test.dart": `import 'package:flutter_riverpod/flutter_riverpod.dart';
import 'package:flutter_test/flutter_test.dart';

import 'package:{{.Name}}/app.dart';

void main() {
  testWidgets('counter starts at zero', (tester) async {
    await tester.pumpWidget(const ProviderScope(child: {{.Class}}App()));
    expect(find.text('Count: 0'), findsOneWidget);
  });
}
`,
		},
	},
}

// screenFiles builds the write plan for an add_screen invocation.
func screenFiles(project string, args addScreenArgs) (writePlan, error) {
	data := templateData{
		Name:         args.Name,
		Class:        pascalCase(args.Name),
		Feature:      args.Feature,
		FeatureClass: pascalCase(args.Feature),
		ScreenType:   args.Type,
	}

	files := map[string]string{
		project + "/lib/features/{{.Feature}}/screens/{{.Name}}_screen.dart": screenBody(args.Type),
	}
	if args.WithViewmodel == nil || *args.WithViewmodel {
		files[project+"/lib/features/{{.Feature}}/viewmodels/{{.Name}}_viewmodel.dart"] = `import 'package:flutter/foundation.dart';

class {{.Class}}ViewModel extends ChangeNotifier {
  bool _loading = false;

  bool get loading => _loading;

  Future<void> load() async {
    _loading = true;
    notifyListeners();
    try {
      // TODO: load {{.Feature}} data.
    } finally {
      _loading = false;
      notifyListeners();
    }
  }
}
`
	}
	if args.WithTests == nil || *args.WithTests {
		files[project+"/test/features/{{.Feature}}/{{.Name}}_screen_test.dart"] = `import 'package:flutter/material.dart';
import 'package:flutter_test/flutter_test.dart';

import 'package:` + project + `/features/{{.Feature}}/screens/{{.Name}}_screen.dart';

void main() {
  testWidgets('{{.Class}}Screen renders', (tester) async {
    await tester.pumpWidget(const MaterialApp(home: {{.Class}}Screen()));
    expect(find.byType({{.Class}}Screen), findsOneWidget);
  });
}
`
	}

	return projectTemplate{Name: "screen", Files: files}.render(data)
}

func screenBody(screenType string) string {
	header := `import 'package:flutter/material.dart';

class {{.Class}}Screen extends StatelessWidget {
  const {{.Class}}Screen({super.key});

  @override
  Widget build(BuildContext context) {
`
	var body string
	switch screenType {
	case "list":
		body = `    return Scaffold(
      appBar: AppBar(title: const Text('{{.Class}}')),
      body: ListView.builder(
        itemCount: 0,
        itemBuilder: (context, index) => const SizedBox.shrink(),
      ),
    );
`
	case "detail":
		body = `    return Scaffold(
      appBar: AppBar(title: const Text('{{.Class}}')),
      body: const Center(child: Text('{{.Class}} detail')),
    );
`
	case "form":
		body = `    return Scaffold(
      appBar: AppBar(title: const Text('{{.Class}}')),
      body: Form(
        child: Column(
          children: const [
            TextField(decoration: InputDecoration(labelText: 'Name')),
          ],
        ),
      ),
    );
`
	case "settings":
		body = `    return Scaffold(
      appBar: AppBar(title: const Text('Settings')),
      body: ListView(
        children: const [
          SwitchListTile(title: Text('Enabled'), value: false, onChanged: null),
        ],
      ),
    );
`
	default: // generic
		body = `    return Scaffold(
      appBar: AppBar(title: const Text('{{.Class}}')),
      body: const Center(child: Text('{{.Class}}')),
    );
`
	}
	return header + body + `  }
}
`
}

// serviceFiles builds the write plan for an add_service invocation.
func serviceFiles(project string, args addServiceArgs) (writePlan, error) {
	data := templateData{
		Name:         args.Name,
		Class:        pascalCase(args.Name),
		Feature:      args.Feature,
		FeatureClass: pascalCase(args.Feature),
		ServiceType:  args.Type,
		BaseURL:      args.BaseURL,
	}

	files := map[string]string{
		project + "/lib/features/{{.Feature}}/services/{{.Name}}_service.dart": serviceBody(args.Type),
	}
	if args.WithMocks == nil || *args.WithMocks {
		files[project+"/lib/features/{{.Feature}}/services/{{.Name}}_service_mock.dart"] = `import '{{.Name}}_service.dart';

class Mock{{.Class}}Service implements {{.Class}}Service {
  @override
  Future<void> init() async {}
}
`
	}
	if args.WithTests == nil || *args.WithTests {
		files[project+"/test/features/{{.Feature}}/{{.Name}}_service_test.dart"] = `import 'package:flutter_test/flutter_test.dart';

import 'package:` + project + `/features/{{.Feature}}/services/{{.Name}}_service.dart';

void main() {
  test('{{.Class}}Service initializes', () async {
    final service = {{.Class}}Service();
    await service.init();
  });
}
`
	}

	return projectTemplate{Name: "service", Files: files}.render(data)
}

func serviceBody(serviceType string) string {
	switch serviceType {
	case "api":
		return `class {{.Class}}Service {
  {{.Class}}Service({this.baseUrl = '{{.BaseURL}}'});

  final String baseUrl;

  Future<void> init() async {
    // TODO: configure the HTTP client for $baseUrl.
  }
}
`
	case "repository":
		return `class {{.Class}}Service {
  final _items = <String, Object>{};

  Future<void> init() async {}

  Object? find(String id) => _items[id];

  void save(String id, Object value) => _items[id] = value;
}
`
	case "storage":
		return `class {{.Class}}Service {
  Future<void> init() async {
    // TODO: open local storage.
  }

  Future<String?> read(String key) async => null;

  Future<void> write(String key, String value) async {}
}
`
	default: // analytics
		return `class {{.Class}}Service {
  Future<void> init() async {}

  void track(String event, [Map<String, Object?> properties = const {}]) {
    // TODO: forward to the analytics backend.
  }
}
`
	}
}
