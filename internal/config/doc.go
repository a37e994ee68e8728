// Package config provides centralized configuration management for the chat gateway.
// It handles loading configuration from multiple sources, validation, and provides
// a type-safe API for accessing configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (config.yaml, configs/config.yaml, or PRICEWATCH_CONFIG_FILE)
//	3. Default values from struct tags (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern PRICEWATCH_<SECTION>_<FIELD>:
//
//	PRICEWATCH_SERVER_PORT=4000
//	PRICEWATCH_AUTH_JWT_SECRET=...
//	PRICEWATCH_MONGO_URI=mongodb://localhost:27017
//	PRICEWATCH_CHAT_HISTORY_CAPACITY=200
//	PRICEWATCH_CHAT_MALFORMED_FRAME_POLICY=drop
//
// Validation uses go-playground/validator struct tags plus a few cross-field rules
// (ping period shorter than pong wait, at least one allowed origin).
package config
