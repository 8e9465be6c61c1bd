package python

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

func TestIsStdlib(t *testing.T) {
	assert.True(t, isStdlib("os"))
	assert.True(t, isStdlib("os.path"))
	assert.True(t, isStdlib("__grammar__.for_loop"))
	assert.False(t, isStdlib("requests"))
	assert.False(t, isStdlib("acme.widgets"))
}

func TestPrivateModules(t *testing.T) {
	item := domain.WorkItem{
		TreePaths: []string{
			"acme/widgets.py",
			"acme/__init__.py",
			"acme/pkg/__init__.py",
			"README.md",
			"setup.cfg",
		},
	}
	private := privateModules(item)
	assert.True(t, private["acme.widgets"])
	assert.True(t, private["acme"])
	assert.True(t, private["acme.pkg"])
	assert.False(t, private["README"])
	assert.Len(t, private, 3)
}

func TestNewReturnsPythonParser(t *testing.T) {
	p := New(nil, nil)
	assert.Equal(t, "python", p.Language())
}
