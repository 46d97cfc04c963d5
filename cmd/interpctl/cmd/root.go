package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tlsutil "github.com/psantana5/interpreter-runtime/pkg/tls"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	userID       string
	caFile       string

	httpClient = http.DefaultClient
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "interpctl",
	Short:        "CLI for the interpreter runtime",
	Long:         `interpctl inspects interpreter settings, runs code through them and reads the execution journal of an interpreterd daemon.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.interpctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "interpreterd URL (default from config, INTERPD_URL or http://127.0.0.1:8090)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&userID, "as", "", "caller identity sent as X-User-ID")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate for an https server")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".interpctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.BindEnv("url", "INTERPD_URL")
	viper.BindEnv("user", "INTERPD_USER")
	viper.SetDefault("url", "http://127.0.0.1:8090")

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
	}

	if serverURL == "" {
		serverURL = viper.GetString("url")
	}
	if userID == "" {
		userID = viper.GetString("user")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
	if caFile != "" {
		tlsConfig, err := tlsutil.ClientConfig(caFile, "", "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading CA certificate: %v\n", err)
			os.Exit(1)
		}
		httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// apiError is returned for non-2xx replies
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// callAPI sends a JSON request and decodes the JSON reply into out, if set
func callAPI(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, GetServerURL()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to interpreterd: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
