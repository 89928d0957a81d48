package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite 配置测试套件.
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

type endpointConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type flowConfig struct {
	Endpoint     endpointConfig `mapstructure:"endpoint"`
	Parallelism  int            `mapstructure:"parallelism"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
}

func (c *flowConfig) ApplyDefaults() {
	if c.Parallelism == 0 {
		c.Parallelism = 1
	}
}

func (c *flowConfig) Validate() error {
	if c.Parallelism < 1 {
		return errors.New("parallelism 必须大于等于 1")
	}
	return nil
}

func (s *ConfigTestSuite) writeFile(name, content string) string {
	path := filepath.Join(s.tempDir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *ConfigTestSuite) TestLoad_YAML() {
	path := s.writeFile("pubsub.yaml", `
endpoint:
  host: localhost
  port: 8085
parallelism: 4
poll_interval: 1s
`)

	cfg, err := Load[flowConfig](path, WithoutEnv())
	s.Require().NoError(err)
	s.Equal("localhost", cfg.Endpoint.Host)
	s.Equal(8085, cfg.Endpoint.Port)
	s.Equal(4, cfg.Parallelism)
	s.Equal(time.Second, cfg.PollInterval)
}

func (s *ConfigTestSuite) TestLoad_JSON() {
	path := s.writeFile("pubsub.json", `{"endpoint": {"host": "127.0.0.1", "port": 443}}`)

	cfg, err := Load[flowConfig](path, WithoutEnv())
	s.Require().NoError(err)
	s.Equal("127.0.0.1", cfg.Endpoint.Host)
	s.Equal(1, cfg.Parallelism, "默认值应被填充")
}

func (s *ConfigTestSuite) TestLoad_FileNotFound() {
	_, err := Load[flowConfig]("/nonexistent/pubsub.yaml")
	s.ErrorIs(err, ErrFileNotFound)
}

func (s *ConfigTestSuite) TestLoad_UnknownExtension() {
	path := s.writeFile("pubsub.conf", "parallelism = 1")
	_, err := Load[flowConfig](path)
	s.ErrorIs(err, ErrInvalidType)
}

func (s *ConfigTestSuite) TestLoad_InvalidYAML() {
	path := s.writeFile("broken.yaml", `endpoint: [}`)
	_, err := Load[flowConfig](path)
	s.ErrorIs(err, ErrReadConfig)
}

func (s *ConfigTestSuite) TestLoad_ValidationFailure() {
	path := s.writeFile("invalid.yaml", "parallelism: -2\n")
	_, err := Load[flowConfig](path, WithoutEnv())
	s.ErrorIs(err, ErrValidation)
}

func (s *ConfigTestSuite) TestLoad_EnvOverride() {
	path := s.writeFile("env.yaml", "parallelism: 2\n")
	s.T().Setenv("PUBSUB_PARALLELISM", "8")

	cfg, err := Load[flowConfig](path)
	s.Require().NoError(err)
	s.Equal(8, cfg.Parallelism)
}

func (s *ConfigTestSuite) TestLoad_EnvOnly() {
	s.T().Setenv("TEST_ENDPOINT_HOST", "emulator")

	cfg, err := Load[flowConfig]("", WithEnvPrefix("TEST"), WithEnvKeys("endpoint.host"))
	s.Require().NoError(err)
	s.Equal("emulator", cfg.Endpoint.Host)
}

func (s *ConfigTestSuite) TestLoad_WithDefaults() {
	path := s.writeFile("partial.yaml", "endpoint:\n  host: h\n")

	cfg, err := Load[flowConfig](path, WithoutEnv(), WithDefaults(map[string]any{"endpoint.port": 8681}))
	s.Require().NoError(err)
	s.Equal(8681, cfg.Endpoint.Port)
}

func (s *ConfigTestSuite) TestLoadFromBytes() {
	cfg, err := LoadFromBytes[flowConfig]([]byte("parallelism: 3\n"), "yaml", WithoutEnv())
	s.Require().NoError(err)
	s.Equal(3, cfg.Parallelism)
}

func (s *ConfigTestSuite) TestMustLoad_Panic() {
	s.Panics(func() {
		MustLoad[flowConfig]("/nonexistent/file.yaml")
	})
}

func (s *ConfigTestSuite) TestGetConfigType() {
	s.Equal("yaml", GetConfigType("a.yml"))
	s.Equal("json", GetConfigType("a.JSON"))
	s.Equal("toml", GetConfigType("a.toml"))
	s.Equal("", GetConfigType("a.ini"))
}
