package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSessionTagRejectsTraversal(t *testing.T) {
	assert.Error(t, ValidateSessionTag("../etc"))
	assert.Error(t, ValidateSessionTag(""))
	assert.Error(t, ValidateSessionTag("sess; rm -rf"))
	assert.NoError(t, ValidateSessionTag("my-session_1"))
}

func TestBuildProducesRunnableCmd(t *testing.T) {
	sb := NewSafeBuilder()
	c := sb.Build(context.Background(), "echo", "hello")
	defer c.Release()

	cmd := c.Exec()
	assert.Equal(t, "hello", cmd.Args[len(cmd.Args)-1])
}
