package gstorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "backups/sentinel.db", ObjectName("backups", "/var/lib/sentinel/sentinel.db"))
	assert.Equal(t, "backups/prod/sentinel.db", ObjectName("backups/prod/", "sentinel.db"))
	assert.Equal(t, "sentinel.db", ObjectName("", "/tmp/sentinel.db"))
}
