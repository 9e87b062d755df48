package resolver

import (
	"reflect"
	"testing"
)

func standardSpecs() []EnvironmentSpec {
	return []EnvironmentSpec{
		{Name: "base"},
		{Name: "dev", Inherits: "base"},
		{Name: "staging", Inherits: "base"},
		{Name: "production", Inherits: "staging"},
	}
}

func TestEnvironmentChain(t *testing.T) {
	envs, err := NewEnvironments(standardSpecs())
	if err != nil {
		t.Fatalf("new environments: %v", err)
	}

	chain, err := envs.Chain("production")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	want := []string{"production", "staging", "base"}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("chain = %v, want %v", chain, want)
	}

	if _, err := envs.Chain("nope"); err == nil {
		t.Error("expected unknown environment rejected")
	}
}

func TestEnvironmentDependents(t *testing.T) {
	envs, err := NewEnvironments(standardSpecs())
	if err != nil {
		t.Fatalf("new environments: %v", err)
	}

	got := envs.Dependents("base")
	want := []string{"base", "dev", "production", "staging"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dependents(base) = %v, want %v", got, want)
	}

	got = envs.Dependents("staging")
	want = []string{"production", "staging"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dependents(staging) = %v, want %v", got, want)
	}
}

func TestEnvironmentUpdate(t *testing.T) {
	envs, err := NewEnvironments(standardSpecs())
	if err != nil {
		t.Fatalf("new environments: %v", err)
	}

	// An invalid revision is rejected and the old graph stays live.
	if err := envs.Update([]EnvironmentSpec{{Name: "a", Inherits: "a"}}); err == nil {
		t.Fatal("expected cyclic revision rejected")
	}
	if !envs.Known("production") {
		t.Fatal("expected old graph still in effect")
	}

	if err := envs.Update([]EnvironmentSpec{
		{Name: "base"},
		{Name: "canary", Inherits: "base"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if envs.Known("production") {
		t.Error("expected production gone after update")
	}
	chain, err := envs.Chain("canary")
	if err != nil || len(chain) != 2 {
		t.Errorf("canary chain = %v (%v), want [canary base]", chain, err)
	}
}

func TestEnvironmentValidation(t *testing.T) {
	cases := []struct {
		name  string
		specs []EnvironmentSpec
	}{
		{"cycle", []EnvironmentSpec{
			{Name: "a", Inherits: "b"},
			{Name: "b", Inherits: "a"},
		}},
		{"self cycle", []EnvironmentSpec{
			{Name: "a", Inherits: "a"},
		}},
		{"unknown parent", []EnvironmentSpec{
			{Name: "a", Inherits: "ghost"},
		}},
		{"duplicate", []EnvironmentSpec{
			{Name: "a"},
			{Name: "a", Inherits: ""},
		}},
		{"empty name", []EnvironmentSpec{
			{Name: ""},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEnvironments(tc.specs); err == nil {
				t.Error("expected construction to fail")
			}
		})
	}
}
