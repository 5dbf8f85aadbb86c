package execution

import (
	"reflect"
	"testing"
)

func TestExtractImportSpecifiers(t *testing.T) {
	code := `
import { z } from "zod";
import defaultExport from 'lodash';
const mod = await import("@scope/pkg/sub");
const old = require('left-pad');
export { thing } from "./local-thing";
export * from "react";
`
	got := ExtractImportSpecifiers(code)
	want := []string{"zod", "lodash", "@scope/pkg/sub", "left-pad", "./local-thing", "react"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolvePackageName(t *testing.T) {
	cases := []struct {
		specifier string
		wantName  string
		wantOK    bool
	}{
		{"zod", "zod", true},
		{"lodash/fp", "lodash", true},
		{"@scope/pkg", "@scope/pkg", true},
		{"@scope/pkg/sub/path", "@scope/pkg", true},
		{"./local-thing", "", false},
		{"../up/thing", "", false},
		{"/abs/path", "", false},
		{"node:fs", "", false},
		{"fs", "", false},
		{"bun:sqlite", "", false},
	}
	for _, c := range cases {
		name, ok := ResolvePackageName(c.specifier)
		if ok != c.wantOK || name != c.wantName {
			t.Errorf("ResolvePackageName(%q) = (%q, %v), want (%q, %v)", c.specifier, name, ok, c.wantName, c.wantOK)
		}
	}
}

func TestResolvePackageNamesDedupesAndExcludesBuiltins(t *testing.T) {
	code := `
import "zod";
import "zod";
const fs = require("fs");
import x from "./relative";
`
	got := ResolvePackageNames(code)
	want := []string{"zod"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
