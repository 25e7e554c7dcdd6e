package disko_test

import (
	"testing"

	"github.com/goblinhack/fatdisk"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorUsesSentinelMessageByDefault(t *testing.T) {
	err := disko.NewDriverError(disko.ENOSPC)
	assert.Equal(t, disko.ENOSPC.Error(), err.Error())
	assert.ErrorIs(t, err.ErrnoCode, disko.ENOSPC)
}

func TestDriverErrorWithMessageIncludesBoth(t *testing.T) {
	err := disko.NewDriverErrorWithMessage(disko.EEXIST, "a/b/hello.txt")
	assert.Contains(t, err.Error(), disko.EEXIST.Error())
	assert.Contains(t, err.Error(), "a/b/hello.txt")
}
