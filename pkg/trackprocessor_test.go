package pkg_test

import (
	"testing"

	"github.com/tracklane/processor/pkg"
)

func TestVersion(t *testing.T) {
	version := pkg.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
