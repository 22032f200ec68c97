package engine

import "encoding/base64"

// Codec helpers mirror the engine's utf8⇄bytes and base64⇄bytes utilities.

func UTF8Bytes(value string) []byte {
	return []byte(value)
}

func BytesUTF8(data []byte) string {
	return string(data)
}

func Base64Bytes(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}

func BytesBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
