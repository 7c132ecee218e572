package utils

import (
	"os"
	"strconv"
)

func ParseWithFallback(envName string, fallback string) string {
	result := os.Getenv(envName)
	if result == "" {
		result = fallback
	}

	return result
}

func ParseFloatWithFallback(envName string, fallback float64) float64 {
	raw := os.Getenv(envName)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}

	return parsed
}
