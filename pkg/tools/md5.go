package tools

import (
	"crypto/md5"
	"encoding/hex"
)

func MD5(str string) string {
	return MD5Bytes([]byte(str))
}

// MD5Bytes 计算任意字节的md5，返回小写十六进制
func MD5Bytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
