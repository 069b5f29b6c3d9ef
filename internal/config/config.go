// Package config holds the CLI configuration types and their viper loading.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/genbalink/genbalink/internal/identity"
)

// Endpoint stores all parameters for a console or field endpoint process.
type Endpoint struct {
	Role      identity.Role
	SiteID    string
	SignalURL string // rendezvous WebSocket URL, e.g. wss://relay.example.com/ws
	Token     string // optional bearer token presented to the rendezvous service
	Debug     bool
}

// Rendezvous stores the parameters for the relay server process.
type Rendezvous struct {
	Addr      string // listen address, e.g. ":8090"
	RedisAddr string // optional redis address for presence bookkeeping
	JWTKey    string // optional HMAC key; when set the /ws upgrade requires a valid token
	Debug     bool
}

// NewViper returns a viper instance wired to the GENBALINK_* environment and
// an optional genbalink.yaml config file in the working directory.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GENBALINK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("genbalink")
	v.AddConfigPath(".")
	// A missing config file is fine; env and flags cover everything.
	_ = v.ReadInConfig()
	return v
}

// EndpointFromViper assembles and validates an Endpoint config.
func EndpointFromViper(v *viper.Viper, role identity.Role) (Endpoint, error) {
	cfg := Endpoint{
		Role:      role,
		SiteID:    v.GetString("site"),
		SignalURL: v.GetString("signal"),
		Token:     v.GetString("token"),
		Debug:     v.GetBool("debug"),
	}
	if cfg.SiteID == "" {
		return Endpoint{}, errors.New("missing site id (--site or GENBALINK_SITE)")
	}
	if cfg.SignalURL == "" {
		return Endpoint{}, errors.New("missing rendezvous URL (--signal or GENBALINK_SIGNAL)")
	}
	if !strings.HasPrefix(cfg.SignalURL, "ws://") && !strings.HasPrefix(cfg.SignalURL, "wss://") {
		return Endpoint{}, fmt.Errorf("rendezvous URL must be ws:// or wss://: %s", cfg.SignalURL)
	}
	return cfg, nil
}

// RendezvousFromViper assembles the relay server config.
func RendezvousFromViper(v *viper.Viper) Rendezvous {
	cfg := Rendezvous{
		Addr:      v.GetString("addr"),
		RedisAddr: v.GetString("redis"),
		JWTKey:    v.GetString("jwt-key"),
		Debug:     v.GetBool("debug"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	return cfg
}
