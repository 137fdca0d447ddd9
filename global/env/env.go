package env

import (
	"net"
	"os"
)

const defaultConfigPath = "./etc"

var (
	LocalhostIP string
	ConfigPath  string
)

func init() {
	findLocalHostIP()
	initConfigPath()
}

// initConfigPath 配置目录，CONFIG_PATH为空时使用./etc
func initConfigPath() {
	ConfigPath = os.Getenv("CONFIG_PATH")
	if ConfigPath == "" {
		ConfigPath = defaultConfigPath
	}
}

// findLocalHostIP 取第一个非回环的IPv4地址，找不到时使用127.0.0.1
func findLocalHostIP() {
	LocalhostIP = "127.0.0.1"

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			LocalhostIP = ipnet.IP.String()
			return
		}
	}
}

func GetLocalHostIP() string {
	return LocalhostIP
}

func SetDefaultConfigPath(path string) {
	ConfigPath = path
}
