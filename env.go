// FILE: env.go
// Package main – Environment helpers for the trading daemon.
//
// This file provides:
//   1) Small helpers to read environment variables with sane defaults
//      (strings, ints, floats, bools).
//   2) loadDaemonEnv – hydrates the process env from an optional .env file
//      (TRADERD_ENV_FILE, default ".env") without overriding variables that
//      are already exported.
//
// The daemon never requires `export $(cat .env ...)`; edit the env file and
// restart.

package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// --------- Env helpers (used across files) ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// --------- .env loader ---------

// loadDaemonEnv loads the env file into the process env. Variables already
// present in the environment win; a missing file is not an error (containers
// usually inject everything through the runtime).
func loadDaemonEnv() {
	path := getEnv("TRADERD_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		log.Printf("env: %s not found, relying on process env", path)
		return
	}
	log.Printf("env: loaded %s", path)
}
