/*
Copyright © 2021 Edmond Cotterell

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	devConfig "github.com/Daskott/sentinel/dev/config"
	"github.com/Daskott/sentinel/server"
	"github.com/Daskott/sentinel/shared"
	"github.com/go-playground/validator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "SENTINEL"

var serverConfigFile string

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a sentinel server",
	Long: `The sentinel server houses the tourist api: registration, login with
account lockout, phone verification & emergency alert dispatch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := serverConfig()
		if err != nil {
			return err
		}

		server.Start(config, isDevEnv)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverConfigFile, "sconfig", "", "Config for server (not needed with --dev)")
}

// serverConfig reads the server config file, lets SENTINEL_* env vars
// override it, and validates the result.
func serverConfig() (*shared.ServerConfig, error) {
	if isDevEnv {
		configFilePath, err := devConfigFilePath()
		if err != nil {
			return nil, err
		}
		serverConfigFile = configFilePath
	}

	if serverConfigFile == "" {
		return nil, formattedError("a server config is required, use --sconfig <file> or --dev")
	}

	return loadServerConfig(serverConfigFile)
}

func loadServerConfig(configFile string) (*shared.ServerConfig, error) {
	config := viper.New()
	config.SetConfigFile(configFile)
	config.SetEnvPrefix(ENV_PREFIX)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv() // read in environment variables that match

	// Secrets usually come from the environment rather than the file
	config.BindEnv("twilio.authToken", "TWILIO_AUTH_TOKEN")
	config.BindEnv("google.applicationCredentials", "GOOGLE_APPLICATION_CREDENTIALS")

	if err := config.ReadInConfig(); err != nil {
		return nil, formattedError("error reading server config file: %v", err)
	}

	serverConfig := shared.ServerConfig{}
	if err := config.Unmarshal(&serverConfig); err != nil {
		return nil, formattedError("unable to decode server config: %v", err)
	}

	if err := validator.New().Struct(serverConfig); err != nil {
		return nil, formattedError("invalid server config %v:\n%v", config.ConfigFileUsed(), err)
	}

	return &serverConfig, nil
}

// devConfigFilePath returns dev/config/server.yml, writing the default dev
// config there first if it doesn't exist yet.
func devConfigFilePath() (string, error) {
	rootDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	configFilePath := filepath.Join(rootDir, "dev", "config", "server.yml")
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		err = os.MkdirAll(filepath.Dir(configFilePath), 0755)
		if err != nil {
			return "", err
		}

		err = ioutil.WriteFile(configFilePath, []byte(devConfig.SERVER_YML), 0600)
		if err != nil {
			return "", err
		}
	}

	return configFilePath, nil
}
