package main

import (
	"github.com/nixpig/jobcontrol/internal/config"
	"github.com/spf13/pflag"
)

// flagKeys maps jobserver flags to the config keys they override.
var flagKeys = map[string]string{
	"host":                  "server.host",
	"port":                  "server.port",
	"log-level":             "log.level",
	"server-cert":           "tls.cert_path",
	"server-key":            "tls.key_path",
	"ca-cert":               "tls.ca_cert_path",
	"insecure":              "tls.insecure",
	"idle-timeout":          "session.idle_timeout",
	"session-reap-interval": "session.reap_interval",
	"resume-foreground":     "jobs.resume_foreground",
	"job-reap-interval":     "jobs.reap_interval",
}

func bindFlags(flags *pflag.FlagSet) {
	def := config.Default()

	flags.String("config", "", "Path to YAML config file")
	flags.Bool("debug", false, "Enable debug logs")
	flags.String("log-level", def.Log.Level, "Log level (trace, debug, info, warn, error)")

	flags.String("host", def.Server.Host, "gRPC server host to bind")
	flags.Int("port", def.Server.Port, "gRPC server port")

	flags.
		String("server-cert", def.TLS.CertPath, "Path to server certificate")

	flags.
		String("server-key", def.TLS.KeyPath, "Path to server private key")

	flags.
		String("ca-cert", def.TLS.CACertPath, "Path to CA certificate")

	flags.Bool("insecure", def.TLS.Insecure, "Serve without mTLS and authorisation")

	flags.Duration(
		"idle-timeout",
		def.Session.IdleTimeout,
		"Close sessions idle for longer than this (0 disables)",
	)

	flags.Duration(
		"session-reap-interval",
		def.Session.ReapInterval,
		"How often to check for idle sessions",
	)

	flags.Bool(
		"resume-foreground",
		def.Jobs.ResumeForeground,
		"Resume jobs into the foreground by default",
	)

	flags.Duration(
		"job-reap-interval",
		def.Jobs.ReapInterval,
		"How often to reap terminated jobs (0 reaps only on request)",
	)
}

func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	return config.Load(config.Sources{
		File:     path,
		Flags:    flags,
		FlagKeys: flagKeys,
	})
}

