package common

import "github.com/BurntSushi/toml"

type Config struct {
	Port          int    `toml:"http_port"`
	DB            string `toml:"db"`
	EncryptionKey string `toml:"encryption_key"`
	SessionSecret string `toml:"session_secret"`
}

func LoadConfig(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
