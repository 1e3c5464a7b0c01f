// config.go - Haupt-Konfigurationsfunktionen fuer train
//
// Dieses Modul enthaelt:
// - History: Gibt den Pfad der Trainings-History zurueck (TRAIN_HISTORY)
// - LogLevel: Gibt Log-Level zurueck (TRAIN_DEBUG)
// - Var: Liest eine Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Laufzeit- und Trainings-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// History gibt den Pfad der SQLite-Datenbank mit der Trainings-History zurueck
// Konfigurierbar via TRAIN_HISTORY
// Default: $HOME/.train/history.db
func History() string {
	if s := Var("TRAIN_HISTORY"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".train", "history.db")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via TRAIN_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TRAIN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
