package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const lintTestDecl = `
name: lint-test

on:
  push:
    branches: [main, master]
  pull_request:

jobs:
  lint-test:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.10"
      - name: Install dependencies
        run: |
          pip install .
          pip install ruff mypy pytest
      - name: Lint
        run: ruff check .
      - name: Type check
        run: mypy .
      - name: Tests
        run: pytest -q
        continue_on_error: true
`

func TestParse_LintTestDeclaration(t *testing.T) {
	wf, err := Parse([]byte(lintTestDecl))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if wf.Name != "lint-test" {
		t.Errorf("name: got %q, want lint-test", wf.Name)
	}

	if wf.On.Push == nil {
		t.Fatal("push trigger missing")
	}
	if got, want := strings.Join(wf.On.Push.Branches, ","), "main,master"; got != want {
		t.Errorf("push branches: got %s, want %s", got, want)
	}
	if wf.On.PullRequest == nil {
		t.Fatal("bare pull_request trigger was dropped")
	}
	if len(wf.On.PullRequest.Branches) != 0 {
		t.Errorf("pull_request branches: got %v, want none", wf.On.PullRequest.Branches)
	}

	job, ok := wf.Jobs["lint-test"]
	if !ok {
		t.Fatal("job lint-test missing")
	}
	if job.RunsOn != "ubuntu-latest" {
		t.Errorf("runs-on: got %q", job.RunsOn)
	}
	if len(job.Steps) != 6 {
		t.Fatalf("steps: got %d, want 6", len(job.Steps))
	}

	if job.Steps[1].With["python-version"] != "3.10" {
		t.Errorf("setup-python with: got %v", job.Steps[1].With)
	}

	last := job.Steps[5]
	if !last.ContinueOnError {
		t.Error("test step should be continue_on_error")
	}
	if last.Run != "pytest -q" {
		t.Errorf("test step run: got %q", last.Run)
	}
	for i, step := range job.Steps[:5] {
		if step.ContinueOnError {
			t.Errorf("step %d should not be continue_on_error", i)
		}
	}
}

func TestParse_TriggerShorthand(t *testing.T) {
	wf, err := Parse([]byte("on: push\njobs:\n  j:\n    steps:\n      - run: true\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if wf.On.Push == nil {
		t.Error("scalar `on: push` should subscribe to push")
	}
	if wf.On.PullRequest != nil {
		t.Error("scalar `on: push` should not subscribe to pull_request")
	}

	wf, err = Parse([]byte("on: [push, pull_request]\njobs:\n  j:\n    steps:\n      - run: true\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if wf.On.Push == nil || wf.On.PullRequest == nil {
		t.Error("list form should subscribe to both events")
	}
}

func TestParse_UnknownTriggerEvent(t *testing.T) {
	_, err := Parse([]byte("on: schedule\njobs:\n  j:\n    steps:\n      - run: true\n"))
	if err == nil {
		t.Fatal("expected error for unsupported trigger event")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	decl := `
name: broken
on: push
jobs:
  empty: {}
  bad:
    steps:
      - name: neither
      - run: echo hi
        uses: actions/checkout
      - uses: actions/does-not-exist
      - run: echo hi
        with:
          key: value
      - run: echo hi
        timeout: soon
`
	_, err := Parse([]byte(decl))
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(verr.Problems) != 6 {
		t.Fatalf("expected 6 problems, got %d: %v", len(verr.Problems), verr.Problems)
	}
}

func TestValidate_NoJobs(t *testing.T) {
	_, err := Parse([]byte("name: empty\non: push\n"))
	if err == nil {
		t.Fatal("expected error for workflow without jobs")
	}
	if !strings.Contains(err.Error(), "no jobs") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_NameDefaultsToFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")
	decl := "on: push\njobs:\n  j:\n    steps:\n      - run: true\n"
	if err := os.WriteFile(path, []byte(decl), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}

	wf, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if wf.Name != "nightly" {
		t.Errorf("name: got %q, want nightly", wf.Name)
	}
}
