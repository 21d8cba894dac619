package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	devConfig "github.com/Daskott/sentinel/dev/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	configFile := filepath.Join(t.TempDir(), "server.yml")
	require.Nil(t, ioutil.WriteFile(configFile, []byte(content), 0600))
	return configFile
}

func TestLoadDevServerConfig(t *testing.T) {
	config, err := loadServerConfig(writeConfig(t, devConfig.SERVER_YML))
	require.Nil(t, err)

	assert.Equal(t, 3000, config.Sentinel.Listener.Port)
	assert.Equal(t, "Asia/Kolkata", config.Sentinel.TimeZone)
	assert.Equal(t, "passphrase", config.Sqlite.PassPhrase)
	assert.Equal(t, "+911123978046", config.Alerts.EmergencyNumber)
	assert.Equal(t, 3, config.Alerts.BurstAttempts)
	assert.Equal(t, 2, config.Alerts.BurstIntervalSeconds)
	assert.Contains(t, config.Sentinel.PrivateKeyPem, "BEGIN PRIVATE KEY")
	assert.False(t, config.Google.Storage.EnableSqliteBackupAndSync)
}

func TestServerConfigEnvOverride(t *testing.T) {
	os.Setenv("SENTINEL_SQLITE_PASSPHRASE", "from-env")
	os.Setenv("TWILIO_AUTH_TOKEN", "secret-token")
	defer os.Unsetenv("SENTINEL_SQLITE_PASSPHRASE")
	defer os.Unsetenv("TWILIO_AUTH_TOKEN")

	config, err := loadServerConfig(writeConfig(t, devConfig.SERVER_YML))
	require.Nil(t, err)

	assert.Equal(t, "from-env", config.Sqlite.PassPhrase)
	assert.Equal(t, "secret-token", config.Twilio.AuthToken)
}

func TestInvalidServerConfig(t *testing.T) {
	tests := []struct {
		description string
		content     string
	}{
		{"missing emergency number", `
sentinel:
  privateKeyPem: key
  timeZone: UTC
  listener:
    port: 3000
sqlite:
  passPhrase: pass
`},
		{"backup enabled without bucket", `
sentinel:
  privateKeyPem: key
  timeZone: UTC
  listener:
    port: 3000
sqlite:
  passPhrase: pass
alerts:
  emergencyNumber: "+911123978046"
google:
  storage:
    enableSqliteBackupAndSync: true
`},
		{"burst attempts out of range", `
sentinel:
  privateKeyPem: key
  timeZone: UTC
  listener:
    port: 3000
sqlite:
  passPhrase: pass
alerts:
  emergencyNumber: "+911123978046"
  burstAttempts: 50
`},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			_, err := loadServerConfig(writeConfig(t, tc.content))
			assert.NotNil(t, err)
		})
	}

	_, err := loadServerConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.NotNil(t, err)
}
