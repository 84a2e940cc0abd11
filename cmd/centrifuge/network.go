package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/sweeney/centrifuge/internal/status"
)

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo reads pi-helper's env file. pi-helper rewrites the file
// when the network changes, so it is re-read on every heartbeat. Without
// the file the process environment is used instead.
func readNetworkInfo(path string) *status.NetworkInfo {
	get := os.Getenv
	if path != "" {
		if env, err := godotenv.Read(path); err == nil {
			get = func(key string) string { return env[key] }
		}
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}
