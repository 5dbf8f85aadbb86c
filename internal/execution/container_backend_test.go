package execution

import "testing"

func TestContainerBackendNodeModulesDir(t *testing.T) {
	b := &ContainerBackend{CacheMountTarget: "/cache/project"}
	got := b.nodeModulesDir()
	want := "/cache/project/node_modules"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
