package config

import (
	"github.com/caiflower/fcgi-server/global/env"
	"github.com/caiflower/fcgi-server/pkg/fcgi"
	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

const defaultConfigFile = "default.yaml"

type DefaultConfig struct {
	LoggerConfig logger.Config `yaml:"logger"`
	FcgiConfig   fcgi.Config   `yaml:"fcgi"`
}

// LoadDefaultConfig 读取 $CONFIG_PATH/default.yaml 并填充默认值
func LoadDefaultConfig(v *DefaultConfig) (err error) {
	err = tools.LoadConfig(env.ConfigPath+"/"+defaultConfigFile, v)
	return
}
